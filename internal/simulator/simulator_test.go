package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/ingest"
	"github.com/smukkama/beehive-server/internal/memstore"
	"github.com/smukkama/beehive-server/internal/protocol"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func isRounded(v float64) bool {
	return math.Abs(v*100-math.Round(v*100)) < 1e-6
}

func TestGenerator_Ranges(t *testing.T) {
	g := NewGenerator(1)
	for i := 0; i < 500; i++ {
		r := g.Next(t0)
		assert.True(t, r.Temperature >= MinTemperature && r.Temperature <= MaxTemperature)
		assert.True(t, r.Humidity >= MinHumidity && r.Humidity <= MaxHumidity)
		assert.True(t, r.Pollution >= MinPollution && r.Pollution <= MaxPollution)
		assert.True(t, r.ActiveBees >= 0 && r.ActiveBees <= MaxActiveBees)
		require.NotNil(t, r.NoiseDB)
		assert.True(t, *r.NoiseDB >= MinNoiseDB && *r.NoiseDB <= MaxNoiseDB)
		assert.True(t, isRounded(r.Temperature))
		assert.True(t, isRounded(*r.NoiseDB))
		assert.Equal(t, hive.NoiseStatusFor(*r.NoiseDB), r.NoiseStatus)
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	a, b := NewGenerator(7), NewGenerator(7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Next(t0), b.Next(t0))
	}
}

func TestGenerator_Noise(t *testing.T) {
	n := NewGenerator(3).Noise()
	assert.Equal(t, hive.NoiseStatusFor(n.NoiseDB), n.Status)
}

func TestHTTPSink_PostsReading(t *testing.T) {
	var got protocol.ReadingData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	r := NewGenerator(5).Next(t0)
	require.NoError(t, NewHTTPSink(srv.Client(), srv.URL).Send(context.Background(), r))
	require.NotNil(t, got.ActiveBees)
	assert.Equal(t, r.ActiveBees, *got.ActiveBees)
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.Client(), srv.URL).Send(context.Background(), NewGenerator(5).Next(t0))
	assert.Error(t, err)
}

type capturePublisher struct {
	msgs []*protocol.ReadingMessage
	err  error
}

func (p *capturePublisher) PublishReading(_ context.Context, msg *protocol.ReadingMessage) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestKafkaSink_PublishesKeyedMessage(t *testing.T) {
	pub := &capturePublisher{}
	require.NoError(t, NewKafkaSink(pub, "hive-7").Send(context.Background(), NewGenerator(5).Next(t0)))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "hive-7", pub.msgs[0].Key())
	assert.Equal(t, protocol.SourceSimulator, pub.msgs[0].Source)
	assert.NoError(t, pub.msgs[0].Data.Validate())
}

func TestSimulator_TickIngests(t *testing.T) {
	store := memstore.New()
	log := logrus.New()
	log.SetOutput(io.Discard)

	sim := New(NewGenerator(9), NewIngestSink(ingest.New(store, ingest.Config{})), log)
	sim.Tick(context.Background())
	sim.Tick(context.Background())

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSimulator_TickSurvivesSinkFailure(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	pub := &capturePublisher{err: errors.New("broker down")}
	sim := New(NewGenerator(9), NewKafkaSink(pub, ""), log)
	sim.Tick(context.Background())
	assert.Len(t, pub.msgs, 1)
}
