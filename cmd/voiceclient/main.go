// Command voiceclient plays the device role from a terminal: prompts are
// printed, answers are typed, and a WAV file can stand in for the microphone.
package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-interaction-engine/internal/service/session"
	"voice-interaction-engine/internal/voice/capability"
	"voice-interaction-engine/internal/voice/capability/remote"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 100ms chunks of 16kHz 16-bit mono
const chunkSize = 3200
const chunkIntervalMs = 100

type client struct {
	ws    *websocket.Conn
	wmu   sync.Mutex
	audio string

	mu        sync.Mutex
	listenID  string
	streaming chan struct{}
}

func main() {
	server := flag.String("server", "ws://localhost:8080/v1/sessions/ws", "Session endpoint")
	mode := flag.String("mode", "quiz", "dictation, single_question or quiz")
	quiz := flag.String("quiz", "", "Quiz id (default quiz when empty)")
	email := flag.String("email", "", "Student email for question submission")
	prompt := flag.String("prompt", "", "Spoken prompt in single_question mode")
	audio := flag.String("audio", "", "WAV file (16kHz 16-bit mono) streamed as microphone audio; disables typed answers")
	autostart := flag.Bool("start", true, "Start the dialogue after connecting")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid server URL")
	}
	q := u.Query()
	q.Set("mode", *mode)
	for k, v := range map[string]string{"quiz": *quiz, "email": *email, "prompt": *prompt} {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", u.String()).Msg("Failed to connect")
	}
	defer ws.Close()
	log.Info().Str("url", u.String()).Msg("Connected")

	c := &client{ws: ws, audio: *audio}
	caps := capability.Capabilities{Capture: *audio == "", Playback: true, Audio: *audio != ""}
	if err := c.send(remote.Message{Type: remote.TypeHello, Capabilities: &caps}); err != nil {
		log.Fatal().Err(err).Msg("Handshake failed")
	}
	if *autostart {
		_ = c.control(remote.ActionStart)
	}

	go c.readStdin()
	if err := c.readLoop(); err != nil {
		log.Error().Err(err).Msg("Connection closed")
	}
}

func (c *client) send(m remote.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(m)
}

func (c *client) control(action string) error {
	return c.send(remote.Message{Type: remote.TypeControl, Action: action})
}

func (c *client) readLoop() error {
	for {
		var m remote.Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		switch m.Type {
		case remote.TypeSpeak:
			go c.speak(m)
		case remote.TypeSpeakCancel:
			fmt.Println("  (speech cancelled)")
		case remote.TypeListenStart:
			c.mu.Lock()
			c.listenID = m.ID
			c.mu.Unlock()
			if c.audio == "" {
				fmt.Print("> ")
			}
		case remote.TypeListenStop:
			c.endListen(m.ID)
		case remote.TypeListenAbort:
			c.mu.Lock()
			if c.listenID == m.ID {
				c.listenID = ""
			}
			c.mu.Unlock()
		case remote.TypeAudioStart:
			c.startAudio()
		case remote.TypeAudioStop:
			c.stopAudio()
		case remote.TypeUI:
			printEvent(m.Event)
		}
	}
}

// speak prints the utterance and reports it finished after a reading delay.
func (c *client) speak(m remote.Message) {
	_ = c.send(remote.Message{Type: remote.TypeSpeakStart, ID: m.ID})
	fmt.Printf("[system] %s\n", m.Text)
	rate := m.Rate
	if rate <= 0 {
		rate = 1
	}
	time.Sleep(time.Duration(float64(len(m.Text))*40/rate) * time.Millisecond)
	_ = c.send(remote.Message{Type: remote.TypeSpeakEnd, ID: m.ID})
}

func (c *client) endListen(id string) {
	c.mu.Lock()
	if c.listenID != id {
		c.mu.Unlock()
		return
	}
	c.listenID = ""
	c.mu.Unlock()
	_ = c.send(remote.Message{Type: remote.TypeListenEnd, ID: id})
}

func (c *client) readStdin() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "/") {
			cmd := strings.TrimPrefix(line, "/")
			if cmd == "quit" {
				c.wmu.Lock()
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				c.wmu.Unlock()
				return
			}
			_ = c.control(cmd)
			continue
		}

		c.mu.Lock()
		id := c.listenID
		c.mu.Unlock()
		if id == "" {
			fmt.Println("  (not listening; commands: /start /stop /cancel /end /quit)")
			continue
		}
		_ = c.send(remote.Message{Type: remote.TypeListenResult, ID: id, Text: line, Final: true})
	}
}

func (c *client) startAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audio == "" || c.streaming != nil {
		return
	}
	stop := make(chan struct{})
	c.streaming = stop
	go c.streamWAV(stop)
}

func (c *client) stopAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming != nil {
		close(c.streaming)
		c.streaming = nil
	}
}

// streamWAV sends the file's PCM in real time, then reports the end of the
// current capture.
func (c *client) streamWAV(stop <-chan struct{}) {
	f, err := os.Open(c.audio)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open audio file")
		return
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Error().Err(err).Msg("Failed to read WAV header")
		return
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Error().Msg("Not a valid WAV file")
		return
	}
	if format := binary.LittleEndian.Uint16(header[20:22]); format != 1 {
		log.Error().Uint16("format", format).Msg("Only PCM format supported")
		return
	}
	log.Info().
		Uint16("channels", binary.LittleEndian.Uint16(header[22:24])).
		Uint32("sampleRate", binary.LittleEndian.Uint32(header[24:28])).
		Msg("Streaming audio")

	chunk := make([]byte, chunkSize)
	ticker := time.NewTicker(chunkIntervalMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		n, err := f.Read(chunk)
		if err == io.EOF {
			_ = c.control(remote.ActionStop)
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to read audio")
			return
		}
		c.wmu.Lock()
		err = c.ws.WriteMessage(websocket.BinaryMessage, chunk[:n])
		c.wmu.Unlock()
		if err != nil {
			return
		}
	}
}

func printEvent(raw json.RawMessage) {
	var ev session.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	switch ev.Kind {
	case session.EventReady:
		fmt.Printf("  session %s ready (%s)\n", ev.SessionID, ev.Mode)
	case session.EventTranscript:
		if !ev.Final {
			fmt.Printf("  ... %s\n", ev.Text)
		}
	case session.EventScore:
		fmt.Printf("  score: %d/%d\n", *ev.Score, ev.Total)
	case session.EventResult:
		fmt.Printf("  transcript: %s\n", ev.Text)
	case session.EventError:
		fmt.Printf("  error (%s): %s\n", ev.ErrorKind, ev.Error)
	case session.EventDone:
		fmt.Println("  done")
	case session.EventState:
		log.Debug().Str("from", ev.From).Str("to", ev.State).Msg("State")
	}
}
