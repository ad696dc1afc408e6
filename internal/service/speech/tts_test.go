package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeCollectsAudio(t *testing.T) {
	var gotReq ttsRequest
	url := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
		f := readFrame(t, conn)
		if f == nil {
			return
		}
		_ = json.Unmarshal(f.Payload, &gotReq)

		writeFrame(conn, &Frame{Type: AudioOnlyServerResponse, Payload: []byte("ID3-")})
		chunk := fmt.Sprintf(`{"code":0,"reqid":"r-1","data":%q}`, base64.StdEncoding.EncodeToString([]byte("frames")))
		writeFrame(conn, &Frame{Type: FullServerResponse, Serialization: JSONSerialization, Payload: []byte(chunk)})
		writeFrame(conn, &Frame{Type: FullServerResponse, Flags: WithEvent, Event: EventSessionFinished, SessionID: "s"})
	})

	c := NewTTSClient(testConfig("", url))
	out, err := c.Synthesize(context.Background(), "  ok  ", "")
	require.NoError(t, err)

	assert.Equal(t, "ID3-frames", string(out.Audio))
	assert.Equal(t, "mp3", out.Format)
	assert.Equal(t, "r-1", out.RequestID)
	assert.Equal(t, "ok", gotReq.ReqParams.Text)
	assert.Equal(t, "en", gotReq.ReqParams.Language)
	assert.Equal(t, ttsDefaultVoice, gotReq.ReqParams.Speaker)
}

func TestSynthesizeFallsBackOnResourceMismatch(t *testing.T) {
	var (
		mu        sync.Mutex
		resources []string
	)
	url := wsServer(t, func(conn *websocket.Conn, r *http.Request) {
		mu.Lock()
		resources = append(resources, r.Header.Get("X-Api-Resource-Id"))
		attempt := len(resources)
		mu.Unlock()

		readFrame(t, conn)
		if attempt == 1 {
			writeFrame(conn, &Frame{Type: ErrorMessage, ErrorCode: 45000000, Payload: []byte(errResourceMismatch.Error())})
			return
		}
		writeFrame(conn, &Frame{Type: AudioOnlyServerResponse, Flags: LastNoSequence, Payload: []byte("mp3")})
	})

	out, err := NewTTSClient(testConfig("", url)).Synthesize(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, "mp3", string(out.Audio))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{ttsSeedResource, ttsDefaultResource}, resources)
}

func TestSynthesizeFailures(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		_, err := NewTTSClient(testConfig("", "ws://unused")).Synthesize(context.Background(), "  ", "")
		assert.ErrorIs(t, err, ErrSynthesis)
	})

	t.Run("api error", func(t *testing.T) {
		url := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
			readFrame(t, conn)
			writeFrame(conn, &Frame{Type: FullServerResponse, Payload: []byte(`{"code":40000,"message":"bad text"}`)})
		})
		_, err := NewTTSClient(testConfig("", url)).Synthesize(context.Background(), "hi", "")
		assert.ErrorIs(t, err, ErrSynthesis)
	})

	t.Run("no audio", func(t *testing.T) {
		url := wsServer(t, func(conn *websocket.Conn, _ *http.Request) {
			readFrame(t, conn)
			writeFrame(conn, &Frame{Type: FullServerResponse, Flags: WithEvent, Event: EventSessionFinished})
		})
		_, err := NewTTSClient(testConfig("", url)).Synthesize(context.Background(), "hi", "")
		assert.ErrorIs(t, err, ErrSynthesis)
	})

	t.Run("disabled", func(t *testing.T) {
		_, err := NewTTSClient(nil).Synthesize(context.Background(), "hi", "")
		assert.ErrorIs(t, err, ErrDisabled)
	})
}
