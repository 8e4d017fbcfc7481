// Package api раздаёт сервис транскрипции по websocket (/ws), gRPC
// (JSON поток livetranscriber.Control/Stream) и HTTP (/metrics, /api/*).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"livetranscriber/internal/config"
	"livetranscriber/internal/service"
	"livetranscriber/models"
	"livetranscriber/session"
)

var upgrader = websocket.Upgrader{CheckOrigin: loopbackOrigin}

// loopbackOrigin пускает клиентов без Origin (не браузер) и страницы с localhost
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// transcriptPath имя файла из запроса в пути внутри TranscriptDir.
// Пустое имя остаётся пустым: сервис подставит имя с датой.
func (s *Server) transcriptPath(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("transcript path must be a plain file name, got %q", name)
	}
	dir := s.svc.Config().Session.TranscriptDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &session.WriteError{Path: dir, Err: err}
	}
	return filepath.Join(dir, name), nil
}

// client получатель сообщений; отправка потокобезопасна
type client interface {
	send(Message) error
	close()
}

// wsClient websocket соединение: gorilla не допускает параллельной записи
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) close() { c.conn.Close() }

type Server struct {
	cfg    config.APIConfig
	svc    *service.TranscriptionService
	models *models.Manager

	clients map[client]struct{}
	mu      sync.Mutex

	unsubscribe func()
}

// NewServer подключается к событиям сервиса. mgr может быть nil.
func NewServer(cfg config.APIConfig, svc *service.TranscriptionService, mgr *models.Manager) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		models:  mgr,
		clients: make(map[client]struct{}),
	}
	s.setupCallbacks()
	return s
}

func (s *Server) setupCallbacks() {
	s.unsubscribe = s.svc.AddListener(service.Listener{
		OnEvent: func(ev session.TranscriptEvent) {
			s.broadcast(Message{Type: "transcript_event", Event: &ev, Line: ev.Line()})
		},
		OnState: func(ch service.StateChange) {
			msg := Message{Type: "state", State: string(ch.State), SessionID: ch.SessionID, Data: ch.Device}
			if ch.Err != nil {
				msg.Error = ch.Err.Error()
			}
			s.broadcast(msg)
		},
		OnNotice: func(n service.Notice) {
			s.broadcast(Message{Type: "notice", Notice: &n})
		},
	})

	if s.models != nil {
		s.models.SetProgressCallback(func(modelID string, progress float64, status models.ModelStatus, err error) {
			msg := Message{Type: "model_progress", ModelID: modelID, Progress: progress, Data: string(status)}
			if err != nil {
				msg.Error = err.Error()
			}
			s.broadcast(msg)
		})
	}
}

// Handler HTTP маршруты: /ws, /metrics, /api/history, /api/transcript
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.svc.Metrics().Handler())
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/transcript", s.handleTranscript)
	return mux
}

// Run слушает HTTP и (если настроен) gRPC до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve то же, что Run, на готовом слушателе
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	httpSrv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("API listening on %s", lis.Addr())
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.cfg.GRPCSocket != "" {
		g.Go(func() error { return s.serveGRPC(ctx, s.cfg.GRPCSocket) })
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeClients()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close отписывается от сервиса и закрывает соединения
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.closeClients()
}

func (s *Server) addClient(c client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	log.Debugf("Client connected (%d total)", n)
}

func (s *Server) removeClient(c client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[client]struct{})
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	clients := make([]client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			log.Debugf("Write error, dropping client: %v", err)
			s.removeClient(c)
			c.close()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("Upgrade: %v", err)
		return
	}
	c := &wsClient{conn: conn}
	s.addClient(c)
	defer func() {
		s.removeClient(c)
		c.close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("Read: %v", err)
			}
			return
		}
		s.processMessage(r.Context(), c, msg)
	}
}

func (s *Server) reply(c client, msg Message) {
	if err := c.send(msg); err != nil {
		log.Debugf("Reply %s failed: %v", msg.Type, err)
	}
}

func (s *Server) processMessage(ctx context.Context, c client, msg Message) {
	switch msg.Type {
	case "get_devices":
		devices, err := s.svc.ListDevices()
		if err != nil {
			s.reply(c, errorMessage(err))
			return
		}
		s.reply(c, Message{Type: "devices", Devices: devices})

	case "get_state":
		out := Message{Type: "state", State: string(s.svc.State())}
		if sess := s.svc.Current(); sess != nil {
			out.SessionID = sess.ID
			out.Data = sess.Device.Name
		}
		s.reply(c, out)

	case "start_session":
		// загрузка модели может занять минуты: не блокируем чтение
		go func() {
			sess, err := s.svc.StartSession(context.Background(), msg.DeviceID)
			if err != nil {
				s.reply(c, errorMessage(err))
				return
			}
			s.reply(c, Message{Type: "session_started", SessionID: sess.ID, Data: sess.Device.Name})
		}()

	case "stop_session":
		sess := s.svc.Current()
		if sess == nil {
			s.reply(c, errorMessage(service.ErrNotCapturing))
			return
		}
		if err := sess.Stop(ctx); err != nil {
			s.reply(c, errorMessage(err))
			return
		}
		s.reply(c, Message{Type: "session_stopped", SessionID: sess.ID})

	case "get_transcript":
		s.reply(c, Message{Type: "transcript", Lines: s.svc.Transcript().Lines()})

	case "save_transcript":
		path, err := s.transcriptPath(msg.Path)
		if err != nil {
			s.reply(c, Message{Type: "error", Error: err.Error()})
			return
		}
		path, err = s.svc.SaveTranscript(path)
		if err != nil {
			s.reply(c, errorMessage(err))
			return
		}
		s.reply(c, Message{Type: "transcript_saved", Path: path})

	case "clear_transcript":
		s.svc.ClearTranscript()
		s.reply(c, Message{Type: "transcript_cleared"})

	case "get_history":
		limit := msg.Limit
		if limit <= 0 {
			limit = 50
		}
		recs, err := s.svc.ListHistory(ctx, limit)
		if err != nil {
			s.reply(c, errorMessage(err))
			return
		}
		s.reply(c, Message{Type: "history", Sessions: recs})

	case "get_session_events":
		events, err := s.svc.HistoryEvents(ctx, msg.SessionID)
		if err != nil {
			s.reply(c, errorMessage(err))
			return
		}
		s.reply(c, Message{Type: "session_events", SessionID: msg.SessionID, Events: events})

	case "get_models", "download_model", "cancel_download", "delete_model", "set_active_model":
		s.processModelMessage(c, msg)

	default:
		s.reply(c, Message{Type: "error", Error: "unknown message type: " + msg.Type})
	}
}

func (s *Server) processModelMessage(c client, msg Message) {
	if s.models == nil {
		s.reply(c, Message{Type: "error", Error: "model management is not available"})
		return
	}
	if msg.Type != "get_models" && msg.ModelID == "" {
		s.reply(c, Message{Type: "error", Error: "modelId is required"})
		return
	}

	var err error
	switch msg.Type {
	case "get_models":
	case "download_model":
		if err = s.models.DownloadModel(msg.ModelID); err == nil {
			s.reply(c, Message{Type: "download_started", ModelID: msg.ModelID})
			return
		}
	case "cancel_download":
		err = s.models.CancelDownload(msg.ModelID)
	case "delete_model":
		err = s.models.DeleteModel(msg.ModelID)
	case "set_active_model":
		err = s.models.SetActiveModel(msg.ModelID)
	}
	if err != nil {
		s.reply(c, Message{Type: "error", Error: err.Error(), ModelID: msg.ModelID})
		return
	}
	s.reply(c, Message{Type: "models_list", Models: s.models.States()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	recs, err := s.svc.ListHistory(r.Context(), limit)
	if errors.Is(err, service.ErrHistoryDisabled) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.svc.Transcript().String()))
}
