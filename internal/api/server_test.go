package api

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/audio/audiotest"
	"livetranscriber/internal/config"
	"livetranscriber/internal/service"
)

func newTestService(t *testing.T, devices ...audio.AudioDevice) (*service.TranscriptionService, *audiotest.Backend) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ResolvePaths()
	cfg.Chunker.MinSegmentDuration = time.Second
	cfg.Chunker.MaxSegmentDuration = 2 * time.Second
	cfg.Chunker.PollInterval = 10 * time.Millisecond
	cfg.Session.AudioOnlyFallback = false

	b := audiotest.New(devices...)
	svc, err := service.New(cfg, service.Deps{
		Backend: b,
		NewRecognizer: func(context.Context) (ai.Recognizer, error) {
			return ai.NewMockRecognizer(ai.MockReply{Result: ai.Result{Text: "hello world", Language: "en"}}), nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, b
}

func speech(seconds float64) []float32 {
	out := make([]float32, int(seconds*16000))
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	return out
}

type wsTestClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, srv *httptest.Server) *wsTestClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsTestClient{t: t, conn: conn}
}

func (c *wsTestClient) send(msg Message) {
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// until читает сообщения, пока не придёт нужный тип; возвращает все прочитанные
func (c *wsTestClient) until(typ string) (Message, []Message) {
	c.t.Helper()
	var seen []Message
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg Message
		require.NoError(c.t, c.conn.ReadJSON(&msg), "waiting for %s", typ)
		if msg.Type == typ {
			return msg, seen
		}
		seen = append(seen, msg)
	}
}

func TestWebSocketSession(t *testing.T) {
	mic := audio.AudioDevice{ID: "mic-1", Name: "USB Mic", MaxInputChannels: 1, DefaultSampleRate: 16000, IsDefault: true}
	svc, backend := newTestService(t, mic)
	s := NewServer(config.APIConfig{}, svc, nil)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	c := dialWS(t, srv)

	c.send(Message{Type: "get_devices"})
	msg, _ := c.until("devices")
	require.Len(t, msg.Devices, 1)
	assert.Equal(t, "USB Mic", msg.Devices[0].Name)

	c.send(Message{Type: "start_session", DeviceID: "mic-1"})
	started, _ := c.until("session_started")
	assert.NotEmpty(t, started.SessionID)

	stream := backend.Last()
	require.NotNil(t, stream)
	require.NoError(t, stream.Emit(speech(1.5)))

	c.send(Message{Type: "stop_session"})
	stopped, seen := c.until("session_stopped")
	assert.Equal(t, started.SessionID, stopped.SessionID)

	var lines []string
	for _, m := range seen {
		if m.Type == "transcript_event" {
			require.NotNil(t, m.Event)
			lines = append(lines, m.Line)
		}
	}
	require.NotEmpty(t, lines)
	assert.Equal(t, "[EN] hello world", lines[0])

	c.send(Message{Type: "get_transcript"})
	tr, _ := c.until("transcript")
	assert.Equal(t, lines, tr.Lines)

	c.send(Message{Type: "save_transcript", Path: "out.txt"})
	saved, _ := c.until("transcript_saved")
	path := filepath.Join(svc.Config().Session.TranscriptDir, "out.txt")
	assert.Equal(t, path, saved.Path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[EN] hello world")

	c.send(Message{Type: "stop_session"})
	errMsg, _ := c.until("error")
	assert.Equal(t, "Not capturing.", errMsg.Error)

	c.send(Message{Type: "bogus"})
	errMsg, _ = c.until("error")
	assert.Contains(t, errMsg.Error, "unknown message type")
}

func TestWebSocketSaveTranscriptOutsideDir(t *testing.T) {
	svc, _ := newTestService(t)
	s := NewServer(config.APIConfig{}, svc, nil)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	c := dialWS(t, srv)

	outside := filepath.Join(t.TempDir(), "stolen.txt")
	for _, p := range []string{outside, "../stolen.txt", "sub/out.txt", ".."} {
		c.send(Message{Type: "save_transcript", Path: p})
		errMsg, _ := c.until("error")
		assert.Contains(t, errMsg.Error, "plain file name", p)
	}
	_, err := os.Stat(outside)
	assert.True(t, os.IsNotExist(err))
}

func TestWebSocketOrigin(t *testing.T) {
	svc, _ := newTestService(t)
	s := NewServer(config.APIConfig{}, svc, nil)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for _, origin := range []string{"http://localhost:3000", "http://127.0.0.1:8080", "http://[::1]"} {
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {origin}})
		require.NoError(t, err, origin)
		conn.Close()
	}
}

func TestWebSocketNoDevices(t *testing.T) {
	svc, _ := newTestService(t)
	s := NewServer(config.APIConfig{}, svc, nil)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	c := dialWS(t, srv)

	c.send(Message{Type: "get_devices"})
	msg, _ := c.until("error")
	assert.Equal(t, "No audio input device found.", msg.Error)
	assert.NotEmpty(t, msg.Hint)

	c.send(Message{Type: "start_session"})
	msg, _ = c.until("error")
	assert.Equal(t, "No audio input device found.", msg.Error)

	c.send(Message{Type: "get_models"})
	msg, _ = c.until("error")
	assert.Contains(t, msg.Error, "model management")
}

func TestHTTPEndpoints(t *testing.T) {
	svc, _ := newTestService(t)
	s := NewServer(config.APIConfig{}, svc, nil)
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "livetranscriber_sessions_started_total")

	resp, err = http.Get(srv.URL + "/api/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/transcript")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestControlStream(t *testing.T) {
	mic := audio.AudioDevice{ID: "mic-1", Name: "USB Mic", MaxInputChannels: 1, DefaultSampleRate: 16000}
	svc, _ := newTestService(t, mic)
	s := NewServer(config.APIConfig{}, svc, nil)
	defer s.Close()

	socket := filepath.Join(t.TempDir(), "ctl.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.serveGRPC(ctx, "unix:"+socket)
	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient("passthrough:///"+socket,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", addr)
		}),
	)
	require.NoError(t, err)
	defer conn.Close()

	streamCtx, streamCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer streamCancel()
	stream, err := conn.NewStream(streamCtx, &_Control_serviceDesc.Streams[0], controlStreamMethod)
	require.NoError(t, err)

	recvType := func(typ string) Message {
		for {
			var msg Message
			require.NoError(t, stream.RecvMsg(&msg))
			if msg.Type == typ {
				return msg
			}
		}
	}

	require.NoError(t, stream.SendMsg(&Message{Type: "get_state"}))
	state := recvType("state")
	assert.Equal(t, "idle", state.State)

	require.NoError(t, stream.SendMsg(&Message{Type: "get_devices"}))
	devices := recvType("devices")
	require.Len(t, devices.Devices, 1)
	assert.Equal(t, "mic-1", devices.Devices[0].ID)

	require.NoError(t, stream.CloseSend())
}
