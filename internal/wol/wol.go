// Package wol builds Wake-on-LAN magic packets and sprays them at the usual
// broadcast targets.
package wol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	apperr "devpulse/internal/error"
	"devpulse/internal/models"
)

const (
	DefaultBroadcast = "255.255.255.255"
	PacketSize       = 6 + 16*6
)

var ErrInvalidMAC = errors.New("invalid MAC address")

// NormalizeMAC strips separators and returns the 12 upper-case hex digits.
func NormalizeMAC(mac string) (string, error) {
	clean := strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(mac)
	clean = strings.ToUpper(clean)
	if len(clean) != 12 {
		return "", apperr.New(apperr.ValidationError, "MAC address must have 12 hex digits", ErrInvalidMAC)
	}
	if _, err := hex.DecodeString(clean); err != nil {
		return "", apperr.New(apperr.ValidationError, "MAC address must only use hex digits", ErrInvalidMAC)
	}
	return clean, nil
}

// MagicPacket returns six 0xFF bytes followed by the MAC repeated 16 times.
func MagicPacket(mac string) ([]byte, error) {
	clean, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	hw, _ := hex.DecodeString(clean)

	packet := make([]byte, 0, PacketSize)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

// Targets lists the addresses a packet is sent to for the given broadcast
// address, without duplicates.
func Targets(broadcast string) []string {
	if broadcast == "" {
		broadcast = DefaultBroadcast
	}
	candidates := []string{
		net.JoinHostPort(broadcast, "9"),
		net.JoinHostPort(broadcast, "7"),
		"192.168.1.255:9",
		"192.168.0.255:9",
	}
	seen := make(map[string]bool, len(candidates))
	targets := candidates[:0]
	for _, t := range candidates {
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	return targets
}

// Waker sends magic packets. Listen defaults to an IPv4 UDP socket on an
// ephemeral port; Go enables SO_BROADCAST on datagram sockets.
type Waker struct {
	Listen func() (net.PacketConn, error)
}

func NewWaker() *Waker {
	return &Waker{}
}

func (w *Waker) listen() (net.PacketConn, error) {
	if w.Listen != nil {
		return w.Listen()
	}
	return net.ListenPacket("udp4", ":0")
}

// Wake never fails with an error; problems are reported in the result.
func (w *Waker) Wake(mac, broadcast string) models.PowerResult {
	packet, err := MagicPacket(mac)
	if err != nil {
		return models.PowerResult{Success: false, Message: "invalid MAC address", Details: err.Error()}
	}

	conn, err := w.listen()
	if err != nil {
		return models.PowerResult{Success: false, Message: "network setup failed", Details: err.Error()}
	}
	defer conn.Close()

	var (
		sent int
		errs []error
	)
	for _, target := range Targets(broadcast) {
		if err := sendTo(conn, packet, target); err != nil {
			log.Warn("magic packet not sent", "target", target, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		sent++
		log.Debug("magic packet sent", "target", target, "mac", mac)
	}

	if sent == 0 {
		return models.PowerResult{
			Success: false,
			Message: "could not send magic packet",
			Details: strings.ReplaceAll(errors.Join(errs...).Error(), "\n", "; "),
		}
	}
	return models.PowerResult{
		Success: true,
		Message: "magic packet sent (" + strconv.Itoa(sent) + " targets)",
		Details: "host should power on within 10-60 seconds. MAC: " + mac,
	}
}

func sendTo(conn net.PacketConn, packet []byte, target string) error {
	addr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return err
	}
	_, err = conn.WriteTo(packet, addr)
	return err
}
