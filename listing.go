package airlock

// Listing is a rentable property as returned by the listings service.
type Listing struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       *string    `json:"description,omitempty"`
	PhotoThumbnail    *string    `json:"photoThumbnail,omitempty"`
	NumOfBeds         *int32     `json:"numOfBeds,omitempty"`
	CostPerNight      *float64   `json:"costPerNight,omitempty"`
	ClosedForBookings *bool      `json:"closedForBookings,omitempty"`
	LocationType      *string    `json:"locationType,omitempty"`
	Amenities         []*Amenity `json:"amenities,omitempty"`
}

// Amenity is a named feature of a listing. Listings sometimes embed partial
// amenity stubs, so every field is optional on the wire.
type Amenity struct {
	ID       *string `json:"id,omitempty"`
	Category *string `json:"category,omitempty"`
	Name     *string `json:"name,omitempty"`
}

// HasCompleteAmenities reports whether the amenities embedded in a listing
// can be served without fetching them from the listings service.
//
// A single named amenity is enough; the remaining entries are not inspected.
func HasCompleteAmenities(amenities []*Amenity) bool {
	for _, a := range amenities {
		if a != nil && a.Name != nil {
			return true
		}
	}
	return false
}
