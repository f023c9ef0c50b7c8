package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.got = append(r.got, e)
	return r.err
}

func sampleEvent() Event {
	return Event{
		Type:     TypeRefreshReuse,
		UserID:   7,
		Username: "alice",
		IP:       "10.0.0.1",
		Revoked:  2,
		At:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_WritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w, topic: DefaultTopic}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "7", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, TypeRefreshReuse, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, sampleEvent(), decoded)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{w: w, topic: DefaultTopic}

	err := p.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewKafkaPublisher_DefaultTopic(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Equal(t, DefaultTopic, p.topic)
	require.NoError(t, p.Close())
}

func TestEventKey_FallsBackToType(t *testing.T) {
	assert.Equal(t, TypeLoginFailed, Event{Type: TypeLoginFailed}.Key())
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("sink failed")}
	m := Multi{ok, nil, bad}

	err := m.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink failed")
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)

	assert.NoError(t, Multi{}.Publish(context.Background(), sampleEvent()))
	assert.NoError(t, Nop{}.Publish(context.Background(), sampleEvent()))
}

func fakeES(t *testing.T, status int) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet && r.URL.Path == "/" {
			_, _ = io.WriteString(w, `{"version":{"number":"9.0.0"}}`)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.Method+" "+r.URL.Path+" "+string(b))
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func TestESIndexer_IndexesEvent(t *testing.T) {
	srv, bodies := fakeES(t, http.StatusCreated)
	x, err := NewESIndexer(ESConfig{URL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, x.Ping(context.Background()))
	require.NoError(t, x.Publish(context.Background(), sampleEvent()))

	require.Len(t, *bodies, 1)
	got := (*bodies)[0]
	assert.True(t, strings.HasPrefix(got, "POST /"+DefaultIndex+"/_doc"), got)
	assert.Contains(t, got, `"type":"refresh_token_reuse"`)
	assert.Contains(t, got, `"user_id":7`)
}

func TestESIndexer_ErrorStatus(t *testing.T) {
	srv, _ := fakeES(t, http.StatusBadRequest)
	x, err := NewESIndexer(ESConfig{URL: srv.URL, Index: "audit"})
	require.NoError(t, err)

	err = x.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit")
}
