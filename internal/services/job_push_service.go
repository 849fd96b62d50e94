package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"aa-backend/internal/dto"
	"aa-backend/internal/models"

	"github.com/gorilla/websocket"
)

var jobStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// jobStreamClient is one websocket subscriber. An empty queue filter
// receives every update.
type jobStreamClient struct {
	ID    string
	Queue string
	Conn  *websocket.Conn
	Send  chan []byte
}

// JobUpdateMessage is the wire format pushed to subscribers
type JobUpdateMessage struct {
	Type      string                `json:"type"`
	Timestamp string                `json:"timestamp"`
	Job       dto.JobStatusResponse `json:"job"`
}

// JobPushService streams job lifecycle updates over websockets so operators
// can watch disbursements and trigger commitments without polling.
type JobPushService struct {
	clients    map[string]*jobStreamClient
	hub        chan JobUpdateMessage
	register   chan *jobStreamClient
	unregister chan *jobStreamClient
	mutex      sync.RWMutex
}

// NewJobPushService creates the push service and starts its hub loop
func NewJobPushService() *JobPushService {
	s := &JobPushService{
		clients:    make(map[string]*jobStreamClient),
		hub:        make(chan JobUpdateMessage, 256),
		register:   make(chan *jobStreamClient),
		unregister: make(chan *jobStreamClient),
	}

	go s.run()
	return s
}

func (s *JobPushService) run() {
	for {
		select {
		case client := <-s.register:
			s.mutex.Lock()
			s.clients[client.ID] = client
			s.mutex.Unlock()
			log.Printf("📡 [JobStream] client connected: %s (queue=%q)", client.ID, client.Queue)

		case client := <-s.unregister:
			s.mutex.Lock()
			if _, ok := s.clients[client.ID]; ok {
				delete(s.clients, client.ID)
				close(client.Send)
			}
			s.mutex.Unlock()
			log.Printf("📡 [JobStream] client disconnected: %s", client.ID)

		case message := <-s.hub:
			s.broadcast(message)
		}
	}
}

func (s *JobPushService) broadcast(message JobUpdateMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("⚠️ [JobStream] failed to encode update: %v", err)
		return
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, client := range s.clients {
		if client.Queue != "" && client.Queue != message.Job.Queue {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// slow consumer, drop the update rather than block the hub
			log.Printf("⚠️ [JobStream] dropping update for slow client %s", client.ID)
		}
	}
}

// BroadcastJobUpdate queues one job state change for delivery
func (s *JobPushService) BroadcastJobUpdate(job *models.ChainJob) {
	update := JobUpdateMessage{
		Type:      "job_update",
		Timestamp: time.Now().Format(time.RFC3339),
		Job: dto.JobStatusResponse{
			ID:          job.ID,
			Queue:       job.Queue,
			JobType:     string(job.JobType),
			JobName:     job.JobName,
			Status:      string(job.Status),
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
			LastError:   job.LastError,
			Result:      job.Result,
		},
	}

	select {
	case s.hub <- update:
	default:
		log.Printf("⚠️ [JobStream] hub full, dropping update for job %s", job.ID)
	}
}

// ActiveClients reports the number of connected subscribers
func (s *JobPushService) ActiveClients() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.clients)
}

// HandleWebSocket upgrades the request and streams updates until the client
// disconnects. The optional ?queue= parameter filters by queue name.
func (s *JobPushService) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := jobStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ [JobStream] websocket upgrade failed: %v", err)
		return
	}

	client := &jobStreamClient{
		ID:    fmt.Sprintf("jobstream_%d", time.Now().UnixNano()),
		Queue: r.URL.Query().Get("queue"),
		Conn:  conn,
		Send:  make(chan []byte, 64),
	}

	s.register <- client

	go s.writePump(client)
	go s.readPump(client)
}

func (s *JobPushService) writePump(client *jobStreamClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *JobPushService) readPump(client *jobStreamClient) {
	defer func() {
		s.unregister <- client
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(512)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️ [JobStream] read error for client %s: %v", client.ID, err)
			}
			return
		}
	}
}
