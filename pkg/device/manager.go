package device

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/metalab-kassomat/kassomat-payout/pkg/ssp"
)

// Initialize drives the full peer bring-up sequence: probe (SYNC),
// encryption negotiation, host protocol version pin, SETUP_REQUEST, and
// the peer-specific Enable. It marks the peer available only once every
// step has succeeded, mirroring mcSspInitializeDevice's all-or-nothing
// bring-up.
func Initialize(p *Peer) error {
	log.Infof("[%s] initializing device at address 0x%02x", p.Name, p.Address)

	if _, err := p.Session.ExecRaw(ssp.CmdSync, nil); err != nil {
		return fmt.Errorf("device: %s: SYNC: %w", p.Name, err)
	}
	log.Debugf("[%s] device found", p.Name)

	if err := p.keyState.Negotiate(); err != nil {
		return fmt.Errorf("device: %s: encryption setup: %w", p.Name, err)
	}
	log.Debugf("[%s] encryption setup", p.Name)

	if err := pinHostProtocolVersion(p); err != nil {
		return fmt.Errorf("device: %s: host protocol version: %w", p.Name, err)
	}
	log.Debugf("[%s] host protocol verified", p.Name)

	setup, err := fetchSetup(p)
	if err != nil {
		return fmt.Errorf("device: %s: setup request: %w", p.Name, err)
	}
	p.Setup = setup
	for i, ch := range setup.Channels {
		log.Infof("[%s] channel %d: %d %s", p.Name, i+1, ch.Value, ch.Currency)
	}

	firmware, err := fetchVersionString(p, ssp.CmdGetFirmwareVersion)
	if err != nil {
		return fmt.Errorf("device: %s: firmware version: %w", p.Name, err)
	}
	p.Setup.Firmware = firmware
	log.Infof("[%s] firmware version: %s", p.Name, firmware)

	dataset, err := fetchVersionString(p, ssp.CmdGetDatasetVersion)
	if err != nil {
		return fmt.Errorf("device: %s: dataset version: %w", p.Name, err)
	}
	p.Setup.Dataset = dataset
	log.Infof("[%s] dataset version: %s", p.Name, dataset)

	resp, err := p.Session.Exec(ssp.CmdEnable, nil)
	if err != nil {
		return fmt.Errorf("device: %s: enable: %w", p.Name, err)
	}
	if !resp.Code.IsOK() {
		return fmt.Errorf("device: %s: enable: %w", p.Name, resp.Code)
	}

	if err := p.Behavior.Enable(p); err != nil {
		return fmt.Errorf("device: %s: behavior enable: %w", p.Name, err)
	}

	p.SetAvailable(true)
	log.Infof("[%s] device has been successfully initialized", p.Name)
	return nil
}

// pinHostProtocolVersion issues HOST_PROTOCOL_VERSION 6, used both during
// initial setup and to re-pin the protocol after a peer-reported RESET.
func pinHostProtocolVersion(p *Peer) error {
	resp, err := p.Session.Exec(ssp.CmdHostProtocolVersion, []byte{0x06})
	if err != nil {
		return err
	}
	if !resp.Code.IsOK() {
		return resp.Code
	}
	return nil
}

// fetchSetup sends SETUP_REQUEST and parses the channel table out of the
// response body: unit type byte, channel count byte, then count*(4-byte
// LE value + 3-byte currency code) pairs.
func fetchSetup(p *Peer) (Setup, error) {
	resp, err := p.Session.Exec(ssp.CmdSetupRequest, nil)
	if err != nil {
		return Setup{}, err
	}
	if !resp.Code.IsOK() {
		return Setup{}, resp.Code
	}
	body := resp.Body
	if len(body) < 2 {
		return Setup{}, fmt.Errorf("device: setup request response too short (%d bytes)", len(body))
	}

	unitType := body[0]
	count := int(body[1])
	offset := 2

	channels := make([]Channel, 0, count)
	for i := 0; i < count; i++ {
		if offset+4+3 > len(body) {
			return Setup{}, fmt.Errorf("device: setup request channel table truncated at channel %d", i+1)
		}
		value := uint32(body[offset]) | uint32(body[offset+1])<<8 |
			uint32(body[offset+2])<<16 | uint32(body[offset+3])<<24
		currency := string(body[offset+4 : offset+7])
		channels = append(channels, Channel{Value: value, Currency: currency})
		offset += 7
	}

	return Setup{UnitType: unitType, Channels: channels}, nil
}

// fetchVersionString sends a version-query command and returns its body
// decoded as an ASCII string, trimming trailing NUL padding.
func fetchVersionString(p *Peer, cmd byte) (string, error) {
	resp, err := p.Session.Exec(cmd, nil)
	if err != nil {
		return "", err
	}
	if !resp.Code.IsOK() {
		return "", resp.Code
	}
	end := len(resp.Body)
	for end > 0 && resp.Body[end-1] == 0 {
		end--
	}
	return string(resp.Body[:end]), nil
}
