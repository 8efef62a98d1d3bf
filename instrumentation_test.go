package airlock

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// can only run one test at a time that takes over the log output
var logLock = sync.Mutex{}

func captureLogs(t *testing.T, level log.Level, f func()) *bytes.Buffer {
	t.Helper()
	logLock.Lock()
	defer logLock.Unlock()

	var buf bytes.Buffer
	logger := log.StandardLogger()
	prevOut, prevFormatter, prevLevel := logger.Out, logger.Formatter, logger.GetLevel()
	log.SetOutput(&buf)
	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	log.SetLevel(level)
	defer func() {
		log.SetOutput(prevOut)
		log.SetFormatter(prevFormatter)
		log.SetLevel(prevLevel)
	}()

	f()
	return &buf
}

func collectLogEvent(t *testing.T, level log.Level, f func()) map[string]interface{} {
	t.Helper()
	var obj map[string]interface{}
	require.NoError(t, json.NewDecoder(captureLogs(t, level, f)).Decode(&obj))
	return obj
}

func collectEventFromContext(ctx context.Context, t *testing.T, level log.Level, f func(*event)) map[string]interface{} {
	t.Helper()
	return collectLogEvent(t, level, func() {
		e := getEvent(ctx)
		f(e)
		if e != nil {
			e.finish()
		}
	})
}

func TestDropsField(t *testing.T) {
	AddField(context.TODO(), "val", "test")
	IncrementField(context.TODO(), "count")
	assert.Nil(t, getEvent(context.TODO()))
}

func TestEventLogOnFinish(t *testing.T) {
	ctx, _ := startEvent(context.TODO(), "test")
	output := collectEventFromContext(ctx, t, log.InfoLevel, func(*event) {
		AddField(ctx, "val", "test")
	})

	assert.Equal(t, "test", output["val"])
	assert.Equal(t, "test", output["msg"])
	assert.Equal(t, "info", output["level"])
}

func TestAddMultipleToEventOnContext(t *testing.T) {
	ctx, _ := startEvent(context.TODO(), "test")
	output := collectEventFromContext(ctx, t, log.InfoLevel, func(*event) {
		AddFields(ctx, EventFields{
			"listing": "foo",
			"amenity": "bar",
		})
	})

	assert.Equal(t, "foo", output["listing"])
	assert.Equal(t, "bar", output["amenity"])
}

func TestIncrementField(t *testing.T) {
	ctx, _ := startEvent(context.TODO(), "test")
	output := collectEventFromContext(ctx, t, log.InfoLevel, func(*event) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				IncrementField(ctx, "upstream.requests")
			}()
		}
		wg.Wait()
	})

	assert.Equal(t, float64(10), output["upstream.requests"])
}

func TestEventFinishesOnce(t *testing.T) {
	_, e := startEvent(context.TODO(), "test")
	buf := captureLogs(t, log.InfoLevel, func() {
		e.finish()
		e.finish()
	})
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestEventMeasurement(t *testing.T) {
	start := time.Now()
	ctx, _ := startEvent(context.TODO(), "test")
	output := collectEventFromContext(ctx, t, log.InfoLevel, func(*event) {
		time.Sleep(time.Microsecond)
	})

	if ts, ok := output["time"].(string); ok {
		timestamp, err := time.Parse(time.RFC3339Nano, ts)
		assert.NoError(t, err)
		assert.WithinDuration(t, start, timestamp, time.Second)
	} else {
		assert.Fail(t, "missing timestamp")
	}
	if dur, ok := output["duration"].(string); ok {
		duration, err := time.ParseDuration(dur)
		assert.NoError(t, err)
		assert.True(t, duration > 0)
	} else {
		assert.Fail(t, "missing duration")
	}
}

func TestDebugDisabled(t *testing.T) {
	ctx, _ := startEvent(context.TODO(), "test")
	output := collectEventFromContext(ctx, t, log.InfoLevel, func(e *event) {
		if e.debugEnabled() {
			AddField(ctx, "val", "test")
		}
	})

	assert.Empty(t, output["val"])
}

func TestDebugEnabled(t *testing.T) {
	ctx, _ := startEvent(context.TODO(), "test")
	output := collectEventFromContext(ctx, t, log.DebugLevel, func(e *event) {
		if e.debugEnabled() {
			AddField(ctx, "val", "test")
		}
	})

	assert.Equal(t, "test", output["val"])
}
