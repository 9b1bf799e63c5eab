package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"poselink/internal/auth"
	"poselink/internal/constants"
	"poselink/internal/protocol"
	"poselink/internal/utils"
)

const (
	colorReset = constants.ColorReset
	colorBold  = constants.ColorBold
	colorDim   = constants.ColorDim
	colorCyan  = constants.ColorCyan
	colorGreen = constants.ColorGreen
	colorRed   = constants.ColorRed
)

func printBanner() {
	fmt.Println()
	fmt.Printf("  %s%sposelink%s %sdevice simulator%s\n", colorBold, colorCyan, colorReset, colorDim, colorReset)
	fmt.Println()
}

func printField(label, value, valueColor string) {
	fmt.Printf("  %s%-12s%s %s%s%s\n", colorDim, label, colorReset, valueColor, value, colorReset)
}

type simulator struct {
	serverURL string
	deviceID  string
	token     string
	heartbeat time.Duration
	frames    bool
}

// run drives one connection: dial, authenticate, then heartbeat (and
// optionally send synthetic frames) until the connection dies.
func (s *simulator) run() error {
	url := strings.TrimSuffix(s.serverURL, "/") + constants.EndpointConnect + s.deviceID

	dialer := websocket.Dialer{HandshakeTimeout: constants.DialTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	if err := s.authenticate(conn); err != nil {
		return err
	}
	printField("status", "authenticated", colorGreen)

	// Reader: the server answers heartbeats and may broadcast poses.
	readErr := make(chan error, 1)
	go func() {
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				readErr <- err
				return
			}
			if env.Type == protocol.TypePoseBroadcast {
				log.Printf("📡 Pose broadcast received (%d bytes)", len(env.Payload))
			}
		}
	}()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case err := <-readErr:
			return fmt.Errorf("connection lost: %w", err)
		case <-ticker.C:
			if err := conn.WriteJSON(protocol.NewEnvelope(protocol.TypeHeartbeat, nil)); err != nil {
				return fmt.Errorf("heartbeat failed: %w", err)
			}
			if s.frames {
				if err := s.sendFrame(conn); err != nil {
					return fmt.Errorf("frame send failed: %w", err)
				}
			}
		}
	}
}

func (s *simulator) authenticate(conn *websocket.Conn) error {
	payload, err := json.Marshal(protocol.AuthRequest{
		DeviceID: s.deviceID,
		Token:    s.token,
		DeviceInfo: protocol.DeviceInfo{
			Model:     "simulator",
			OSVersion: "1.0",
			HasLiDAR:  false,
		},
	})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(protocol.NewEnvelope(protocol.TypeAuthRequest, payload)); err != nil {
		return fmt.Errorf("authRequest write failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(constants.DialTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("authResponse read failed: %w", err)
	}
	if env.Type != protocol.TypeAuthResponse {
		return fmt.Errorf("expected authResponse, got %q", env.Type)
	}

	var resp protocol.AuthResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return fmt.Errorf("authResponse decode failed: %w", err)
	}
	if !resp.Success {
		reason := "unknown"
		if resp.Error != nil {
			reason = *resp.Error
		}
		return fmt.Errorf("authentication rejected: %s", reason)
	}
	return nil
}

func (s *simulator) sendFrame(conn *websocket.Conn) error {
	payload, err := json.Marshal(map[string]interface{}{
		"format":   "synthetic",
		"sequence": time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	return conn.WriteJSON(protocol.NewEnvelope(protocol.TypeCameraFrame, payload))
}

func main() {
	godotenv.Load()

	serverURL := flag.String("server", "ws://"+constants.DefaultHost+":"+constants.DefaultPort, "server websocket URL")
	deviceID := flag.String("device", "", "device id (generated when empty)")
	heartbeat := flag.Duration("heartbeat", 5*time.Second, "heartbeat interval")
	frames := flag.Bool("frames", false, "send synthetic camera frames")
	flag.Parse()

	id := *deviceID
	if id == "" {
		id = "sim-" + uuid.New().String()[:8]
	}

	secret := utils.GetEnv(constants.EnvSecret, "poselink-dev-secret")
	token, err := auth.MintToken(secret, id)
	if err != nil {
		log.Fatalf("token mint failed: %v", err)
	}

	printBanner()
	printField("server", *serverURL, colorCyan)
	printField("device", id, colorCyan)

	sim := &simulator{
		serverURL: *serverURL,
		deviceID:  id,
		token:     token,
		heartbeat: *heartbeat,
		frames:    *frames,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println()
		printField("status", "stopped", colorDim)
		os.Exit(0)
	}()

	// Redial forever with exponential backoff; a notify per attempt
	// keeps the terminal informed.
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	err = backoff.RetryNotify(sim.run, policy, func(err error, next time.Duration) {
		printField("retry", fmt.Sprintf("%v (next in %s)", err, next.Round(time.Millisecond)), colorRed)
	})
	if err != nil {
		log.Fatalf("giving up: %v", err)
	}
}
