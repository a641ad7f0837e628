package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"story-lab/auth"
	"story-lab/gateway"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

type BaseSuite struct {
	suite.Suite
	Config Config
}

func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.GatewayURL == "" {
		s.T().Skip("GATEWAY_URL is not set, no master to talk to")
	}
}

func (s *BaseSuite) header(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Player is one authenticated websocket connection.
type Player struct {
	s    *BaseSuite
	Name string
	conn *websocket.Conn
}

func (s *BaseSuite) Connect(identity, displayName string) *Player {
	s.header("Connecting " + displayName)
	token, err := auth.GenerateToken([]byte(s.Config.Secret), identity, displayName, time.Hour)
	s.Require().NoError(err)

	conn, _, err := websocket.DefaultDialer.Dial(s.Config.GatewayURL+"?"+url.Values{"token": {token}}.Encode(), nil)
	s.Require().NoError(err, "Failed to connect to gateway at "+s.Config.GatewayURL)
	s.T().Cleanup(func() { _ = conn.Close() })
	return &Player{s: s, Name: displayName, conn: conn}
}

func (p *Player) Send(msgType string, payload any) {
	raw, err := json.Marshal(payload)
	p.s.Require().NoError(err)
	data, err := json.Marshal(gateway.Envelope{Type: msgType, Payload: raw})
	p.s.Require().NoError(err)
	if p.s.Config.DebugJSON {
		p.s.T().Logf("%s >> %s", p.Name, data)
	}
	p.s.Require().NoError(p.conn.WriteMessage(websocket.TextMessage, data))
}

// Await skips frames until one of msgType arrives and decodes its payload.
func (p *Player) Await(msgType string, out any) {
	deadline := time.Now().Add(60 * time.Second)
	for {
		_ = p.conn.SetReadDeadline(deadline)
		_, data, err := p.conn.ReadMessage()
		p.s.Require().NoError(err, "%s waiting for %s", p.Name, msgType)
		if p.s.Config.DebugJSON {
			p.s.T().Logf("%s << %s", p.Name, data)
		}
		var env gateway.Envelope
		p.s.Require().NoError(json.Unmarshal(data, &env))
		if env.Type == msgType {
			if out != nil {
				p.s.Require().NoError(json.Unmarshal(env.Payload, out))
			}
			return
		}
	}
}

// WithHealth provides a gRPC health client within a contextual test step.
func (s *BaseSuite) WithHealth(name string, fn func(ctx context.Context, client healthpb.HealthClient)) {
	s.header(name)
	conn, err := grpc.NewClient(s.Config.HealthAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.HealthAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, healthpb.NewHealthClient(conn))
}

func (s *BaseSuite) DumpProto(resp *healthpb.HealthCheckResponse) {
	if !s.Config.DebugJSON {
		return
	}
	marshaler := protojson.MarshalOptions{UseProtoNames: true, Multiline: true, EmitUnpopulated: true}
	s.T().Log(marshaler.Format(resp))
}
