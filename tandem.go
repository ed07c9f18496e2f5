// Tandem Quiz
//
// Two players cooperate on a shared quiz: role A receives one half of each
// scenario, role B the complementary half, and together they must submit a
// correct answer before the countdown ends.
//
// Features:
// - WebSockets per room ID: /tandem/:roomid and /tandem/:roomid/ws
// - Two seats per room (roles A and B), assigned on readiness
// - Each role only ever sees its own view of a challenge
// - Modes: easy, normal (5 lives), hard (3 lives, double scores)
// - Flat challenges and nested big questions with subquestions
// - Three rounds per game, challenges never repeated until exhausted
// - Speed scoring: base score minus one point per elapsed second
// - Players identified by cookie (playerID), sockets by connection id
// - Rooms auto-reaped after configurable idle timeout; never-joined rooms
//   removed after a short grace period
// - Random 6-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Error codes surfaced to clients via result messages.
const (
	ErrRoomNotFound  = "ROOM_NOT_FOUND"
	ErrRoomFull      = "ROOM_FULL"
	ErrRolesFull     = "ROLES_FULL"
	ErrNotPlaying    = "NOT_PLAYING"
	ErrNoQuestion    = "NO_QUESTION"
	ErrNoSubquestion = "NO_SUBQUESTION"
)

// Messages coming from clients
type ClientMessage struct {
	Type          string `json:"type"`                    // "playerReady", "submitAnswer", "chat", "continueGame"
	Mode          string `json:"mode,omitempty"`          // playerReady
	PreferredRole string `json:"preferredRole,omitempty"` // playerReady
	Answer        string `json:"answer,omitempty"`        // submitAnswer
	RemainMs      int    `json:"remainMs,omitempty"`      // submitAnswer
	Message       string `json:"message,omitempty"`       // chat
}

// RolePresence reports a per-role boolean, used for both seat occupancy and
// readiness snapshots.
type RolePresence struct {
	A bool `json:"A"`
	B bool `json:"B"`
}

// JoinResultMessage acknowledges a socket joining a room.
type JoinResultMessage struct {
	Type         string `json:"type"` // "joinResult"
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	RoleAssigned string `json:"roleAssigned"`
	RoomStatus   string `json:"roomStatus,omitempty"`
}

// ReadyResultMessage acknowledges a playerReady call.
type ReadyResultMessage struct {
	Type    string `json:"type"` // "readyResult"
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Role    string `json:"roleAssigned,omitempty"`
	Started bool   `json:"started"`
	Mode    string `json:"mode,omitempty"`
}

// SubmitResultMessage acknowledges a submitAnswer call.
type SubmitResultMessage struct {
	Type     string `json:"type"` // "submitResult"
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Correct  bool   `json:"correct"`
	Score    int    `json:"score,omitempty"`
	GameOver bool   `json:"gameOver,omitempty"`
}

// RoomUpdateMessage is the membership snapshot broadcast on every change.
type RoomUpdateMessage struct {
	Type    string       `json:"type"` // "roomUpdate"
	Players RolePresence `json:"players"`
	Waiting int          `json:"waiting"`
}

// ReadyUpdateMessage is the readiness snapshot.
type ReadyUpdateMessage struct {
	Type  string       `json:"type"` // "readyUpdate"
	Ready RolePresence `json:"ready"`
}

// QuestionMessage carries a role's private view of the active question plus
// shared metadata. Sent as "gameStarted" for the opening dispatch of a game
// and "newQuestion" thereafter.
type QuestionMessage struct {
	Type             string `json:"type"`
	Round            int    `json:"round"`
	Title            string `json:"title"`
	Level            string `json:"level"`
	BaseScore        int    `json:"baseScore"`
	TimeLimitSec     int    `json:"timeLimitSec"`
	Mode             string `json:"mode"`
	Role             string `json:"role"`
	View             string `json:"view"`
	Lives            *int   `json:"lives,omitempty"`
	CumulativeScore  int    `json:"cumulativeScore"`
	Subquestion      int    `json:"subquestion,omitempty"`
	SubquestionCount int    `json:"subquestionCount,omitempty"`
}

type TimerMessage struct {
	Type     string `json:"type"` // "timer"
	RemainMs int    `json:"remainMs"`
}

type RoundTimeoutMessage struct {
	Type     string `json:"type"` // "roundTimeout"
	Round    int    `json:"round"`
	NextInMs int    `json:"nextInMs"`
}

type LivesUpdateMessage struct {
	Type  string `json:"type"` // "livesUpdate"
	Lives int    `json:"lives"`
}

// AnswerResultMessage announces a submission outcome to the whole room.
type AnswerResultMessage struct {
	Type            string `json:"type"` // "answerResult"
	Correct         bool   `json:"correct"`
	Score           int    `json:"score,omitempty"`
	CumulativeScore int    `json:"cumulativeScore,omitempty"`
	By              string `json:"by,omitempty"`
}

type UpdateScoreMessage struct {
	Type            string `json:"type"` // "updateScore"
	CumulativeScore int    `json:"cumulativeScore"`
}

type BigQuestionFinishedMessage struct {
	Type       string `json:"type"` // "bigQuestionFinished"
	Message    string `json:"message"`
	TotalScore int    `json:"totalscore"`
}

type GameFinishedMessage struct {
	Type       string `json:"type"` // "gameFinished"
	Message    string `json:"message"`
	TotalScore int    `json:"totalscore"`
}

type RoomResetMessage struct {
	Type    string `json:"type"` // "roomReset"
	Message string `json:"message"`
}

type SystemMessage struct {
	Type    string `json:"type"` // "system"
	Message string `json:"message"`
}

type ChatMessage struct {
	Type    string `json:"type"` // "chat"
	From    string `json:"from"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	connID   string
	playerID string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "tandem_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// WebSocket handler that resolves the room from :roomid. Joining a room is
// implicit in connecting; a missing room is acked and the socket closed.
func serveWSForRegistry(cfg *Config, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		room, ok := reg.Get(roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		if !ok {
			_ = conn.WriteJSON(JoinResultMessage{
				Type:  "joinResult",
				Error: ErrRoomNotFound,
			})
			_ = conn.Close()
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			connID:   uuid.NewString(),
			playerID: playerID,
		}

		select {
		case room.register <- client:
		case <-room.done:
			_ = conn.WriteJSON(JoinResultMessage{
				Type:  "joinResult",
				Error: ErrRoomNotFound,
			})
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(room)
	}
}

func (c *Client) readPump(room *Room) {
	defer func() {
		select {
		case room.unreg <- c:
		case <-room.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case room.events <- inbound{client: c, msg: msg}:
		case <-room.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed assets/tandem/index.html
var indexHTML []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

// redirectNewRoom handles GET /path by creating a room (honoring an optional
// ?mode= preset) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, reg *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		mode, _ := parseMode(r.URL.Query().Get("mode"))
		room := reg.Create(mode)
		logf(cfg, "ROOMS: Created room %s/%s", path, room.id)
		http.Redirect(w, r, cfg.prefix+path+"/"+room.id, http.StatusTemporaryRedirect)
	}
}

// registerTandemGame sets up routes so that:
//   - $path                  → redirects to a new random room (6-char ID)
//   - $path/:roomid          → HTML client
//   - $path/:roomid/ws       → WebSocket for that room
//   - $path/:roomid/qr       → PNG QR code for that room URL
func registerTandemGame(cfg *Config, path string, mux *httprouter.Router, catalog *Catalog, errs chan<- error) {
	reg := newRoomRegistry(cfg, catalog)

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, reg))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:roomid", getIndexHandler(cfg))

	// Shared assets (no roomid in route)
	mux.GET(cfg.prefix+"/assets/tandem/app.css", serveAssets(cfg, errs))
	mux.GET(cfg.prefix+"/assets/tandem/app.js", serveAssets(cfg, errs))

	// Per-room websocket
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveWSForRegistry(cfg, reg))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
}
