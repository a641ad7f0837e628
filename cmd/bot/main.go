// Bot plays a full game against a running master: N players join one room
// and submit a snippet on every round until R continuations arrived.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"story-lab/auth"
	"story-lab/gateway"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	URL     string        `envconfig:"BOT_URL" default:"ws://localhost:8080/ws"`
	Secret  string        `envconfig:"JWT_SECRET" required:"true"`
	RoomID  int           `envconfig:"BOT_ROOM" default:"1"`
	Players int           `envconfig:"BOT_PLAYERS" default:"3"`
	Rounds  int           `envconfig:"BOT_ROUNDS" default:"2"`
	Timeout time.Duration `envconfig:"BOT_TIMEOUT" default:"60s"`
	Colours bool          `envconfig:"BOT_COLOURS" default:"true"`
}

var snippets = []string{
	"a lantern flickers in the tower",
	"the cat refuses to cross the bridge",
	"someone hid a map under the floor",
	"the baker sings to the moon",
	"a storm is coming from the east",
}

func main() {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	if err := run(config); err != nil {
		printf(config, color.FgRed, "BOT FAILED: %v", err)
		os.Exit(1)
	}
	printf(config, color.FgGreen, "BOT PASSED: %d players, %d rounds", config.Players, config.Rounds)
}

func run(config Config) error {
	joined := sync.WaitGroup{}
	joined.Add(config.Players)
	startOnce := sync.Once{}
	errs := make(chan error, config.Players)

	wg := sync.WaitGroup{}
	for i := range config.Players {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := player{index: i, config: config}
			if err := p.play(&joined, &startOnce); err != nil {
				errs <- fmt.Errorf("player %d: %w", i, err)
			}
		}()
	}
	wg.Wait()
	close(errs)
	return <-errs
}

type player struct {
	index  int
	config Config
	conn   *websocket.Conn
}

func (p *player) play(joined *sync.WaitGroup, startOnce *sync.Once) error {
	identity := fmt.Sprintf("bot-%d", p.index)
	token, err := auth.GenerateToken([]byte(p.config.Secret), identity, fmt.Sprintf("Bot %d", p.index), time.Hour)
	if err != nil {
		joined.Done()
		return err
	}
	target := p.config.URL + "?" + url.Values{"token": {token}}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		joined.Done()
		return err
	}
	defer conn.Close()
	p.conn = conn

	if err := p.send(gateway.TypeJoinRoom, gateway.JoinRoomPayload{RoomID: p.config.RoomID}); err != nil {
		joined.Done()
		return err
	}
	var ack gateway.JoinAckPayload
	if err := p.expect(gateway.TypeJoinAck, &ack); err != nil {
		joined.Done()
		return err
	}
	joined.Done()
	if ack.Status != gateway.StatusOK {
		return fmt.Errorf("join refused: %s", ack.Error)
	}
	printf(p.config, color.FgCyan, "%s joined room %s", identity, ack.Code)

	joined.Wait()
	if p.index == 0 {
		startOnce.Do(func() { err = p.send(gateway.TypeStartGame, gateway.StartGamePayload{}) })
		if err != nil {
			return err
		}
	}

	continued := 0
	for continued < p.config.Rounds {
		msgType, payload, err := p.read()
		if err != nil {
			return err
		}
		switch msgType {
		case "round_started":
			var round gateway.RoundStartedPayload
			_ = json.Unmarshal(payload, &round)
			text := snippets[(p.index+round.Round)%len(snippets)]
			if err := p.send(gateway.TypeSubmitSnippet, gateway.SubmitSnippetPayload{Text: text}); err != nil {
				return err
			}
		case "story_continued":
			continued++
			if p.index == 0 {
				var story gateway.StoryContinuedPayload
				_ = json.Unmarshal(payload, &story)
				printf(p.config, color.FgYellow, "story: %s", story.Text)
			}
		case gateway.TypeError:
			var e gateway.ErrorPayload
			_ = json.Unmarshal(payload, &e)
			printf(p.config, color.FgMagenta, "%s got error %s: %s", identity, e.Code, e.Message)
		}
	}
	return nil
}

func (p *player) send(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(gateway.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *player) read() (string, json.RawMessage, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(p.config.Timeout))
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	var env gateway.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	return env.Type, env.Payload, nil
}

// expect skips broadcasts until a frame of msgType arrives.
func (p *player) expect(msgType string, out any) error {
	for {
		got, payload, err := p.read()
		if err != nil {
			return err
		}
		if got == msgType {
			return json.Unmarshal(payload, out)
		}
	}
}

func printf(config Config, c color.Color, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if config.Colours {
		line = c.Render(line)
	}
	fmt.Println(time.Now().Format("15:04:05.000"), line)
}
