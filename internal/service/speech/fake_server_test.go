package speech

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/medlens/backend/internal/model/speech"
)

// wsServer starts a websocket endpoint; handle owns the connection.
func wsServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(asrURL, ttsURL string) *speechmodel.Config {
	return &speechmodel.Config{
		AppID:       "app",
		AccessToken: "token",
		ASREndpoint: asrURL,
		TTSEndpoint: ttsURL,
		ASRLanguage: "en-US",
		TTSLanguage: "en",
		Timeout:     5 * time.Second,
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *Frame {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read frame: %v", err)
		return nil
	}
	f, err := ParseFrame(data)
	if err != nil {
		t.Errorf("parse frame: %v", err)
		return nil
	}
	return f
}

func writeFrame(conn *websocket.Conn, f *Frame) {
	_ = conn.WriteMessage(websocket.BinaryMessage, f.Marshal())
}
