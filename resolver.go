package airlock

import (
	"context"
	"errors"
	"fmt"

	"github.com/graph-gophers/graphql-go"
)

var errNoRequestContext = errors.New("request context missing, no listing client available")

// Resolver is the root resolver of the gateway schema.
type Resolver struct{}

func listingClient(ctx context.Context) (ListingClient, error) {
	rc, ok := GetRequestContext(ctx)
	if !ok || rc.Listings == nil {
		return nil, errNoRequestContext
	}
	return rc.Listings, nil
}

func (r *Resolver) FeaturedListings(ctx context.Context) ([]*listingResolver, error) {
	client, err := listingClient(ctx)
	if err != nil {
		return nil, err
	}
	listings, err := client.FeaturedListings(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*listingResolver, 0, len(listings))
	for _, l := range listings {
		if l == nil {
			continue
		}
		res = append(res, &listingResolver{listing: l})
	}
	return res, nil
}

func (r *Resolver) Listing(ctx context.Context, args struct{ ID graphql.ID }) (*listingResolver, error) {
	client, err := listingClient(ctx)
	if err != nil {
		return nil, err
	}
	listing, err := client.Listing(ctx, string(args.ID))
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, nil
	}
	return &listingResolver{listing: listing}, nil
}

type listingResolver struct {
	listing *Listing
}

func (r *listingResolver) ID() graphql.ID {
	return graphql.ID(r.listing.ID)
}

func (r *listingResolver) Title() string {
	return r.listing.Title
}

func (r *listingResolver) Description() *string {
	return r.listing.Description
}

func (r *listingResolver) PhotoThumbnail() *string {
	return r.listing.PhotoThumbnail
}

func (r *listingResolver) NumOfBeds() *int32 {
	return r.listing.NumOfBeds
}

func (r *listingResolver) CostPerNight() *float64 {
	return r.listing.CostPerNight
}

func (r *listingResolver) ClosedForBookings() *bool {
	return r.listing.ClosedForBookings
}

func (r *listingResolver) LocationType() *string {
	return r.listing.LocationType
}

// Amenities serves the embedded amenities when they look complete and
// fetches them from the listings service otherwise.
func (r *listingResolver) Amenities(ctx context.Context) ([]*amenityResolver, error) {
	amenities := r.listing.Amenities
	if HasCompleteAmenities(amenities) {
		IncrementField(ctx, "amenities.embedded")
	} else {
		client, err := listingClient(ctx)
		if err != nil {
			return nil, err
		}
		amenities, err = client.Amenities(ctx, r.listing.ID)
		if err != nil {
			return nil, err
		}
	}

	res := make([]*amenityResolver, 0, len(amenities))
	for _, a := range amenities {
		res = append(res, &amenityResolver{amenity: a})
	}
	return res, nil
}

type amenityResolver struct {
	amenity *Amenity
}

func (r *amenityResolver) ID() *graphql.ID {
	if r.amenity == nil || r.amenity.ID == nil {
		return nil
	}
	id := graphql.ID(*r.amenity.ID)
	return &id
}

func (r *amenityResolver) Category() *string {
	if r.amenity == nil {
		return nil
	}
	return r.amenity.Category
}

// Name fails for amenity stubs without a name, the schema declares it
// non-null.
func (r *amenityResolver) Name() (string, error) {
	if r.amenity == nil || r.amenity.Name == nil {
		return "", fmt.Errorf("amenity has no name")
	}
	return *r.amenity.Name, nil
}
