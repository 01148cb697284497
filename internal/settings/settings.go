package settings

import (
	"fmt"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"
)

// Settings holds the bridge configuration loaded from settings.ini.
type Settings struct {
	sipServer    string
	sipPort      int
	sipDomain    string
	sipUsername  string
	sipPassword  string
	sipProtocol  string
	relayServers []string

	ringTimeout     int
	autoAnswer      bool
	autoAnswerDelay int

	registerAttempts    int
	registerInterval    int
	registerExponential bool

	apiBind string

	hassURL    string
	hassToken  string
	hassPrefix string
}

// Load reads configuration from an ini file and validates required fields.
func Load(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("sip")
	s.sipServer = sec.Key("server").String()
	s.sipPort = sec.Key("port").MustInt(5060)
	s.sipDomain = sec.Key("domain").String()
	s.sipUsername = sec.Key("username").String()
	s.sipPassword = sec.Key("password").String()
	s.sipProtocol = sec.Key("protocol").MustString("udp")
	if raw := sec.Key("relay_servers").String(); raw != "" {
		for _, rs := range strings.Split(raw, ",") {
			if rs = strings.TrimSpace(rs); rs != "" {
				s.relayServers = append(s.relayServers, rs)
			}
		}
	}

	sec = cfg.Section("calls")
	s.ringTimeout = sec.Key("ring_timeout").MustInt(60)
	s.autoAnswer = sec.Key("auto_answer").MustBool(false)
	s.autoAnswerDelay = sec.Key("auto_answer_delay").MustInt(3)

	sec = cfg.Section("registration")
	s.registerAttempts = sec.Key("attempts").MustInt(5)
	s.registerInterval = sec.Key("retry_interval").MustInt(10)
	s.registerExponential = sec.Key("exponential").MustBool(false)

	sec = cfg.Section("api")
	s.apiBind = sec.Key("bind").MustString(":8089")

	sec = cfg.Section("homeassistant")
	s.hassURL = sec.Key("base_url").String()
	s.hassToken = sec.Key("token").String()
	s.hassPrefix = sec.Key("entity_prefix").MustString("sip2ha")

	if s.sipServer == "" || s.sipUsername == "" {
		return nil, fmt.Errorf("sip server and username must be set")
	}
	if s.sipDomain == "" {
		s.sipDomain = s.sipServer
	}
	if s.ringTimeout <= 0 {
		return nil, fmt.Errorf("ring_timeout must be positive")
	}

	return s, nil
}

func (s *Settings) SIPServer() string      { return s.sipServer }
func (s *Settings) SIPPort() int           { return s.sipPort }
func (s *Settings) SIPDomain() string      { return s.sipDomain }
func (s *Settings) SIPUsername() string    { return s.sipUsername }
func (s *Settings) SIPPassword() string    { return s.sipPassword }
func (s *Settings) SIPProtocol() string    { return s.sipProtocol }
func (s *Settings) RelayServers() []string { return s.relayServers }

func (s *Settings) AutoAnswer() bool { return s.autoAnswer }

func (s *Settings) RingTimeout() time.Duration {
	return time.Duration(s.ringTimeout) * time.Second
}

func (s *Settings) AutoAnswerDelay() time.Duration {
	return time.Duration(s.autoAnswerDelay) * time.Second
}

func (s *Settings) RegisterAttempts() uint64 { return uint64(s.registerAttempts) }

func (s *Settings) RegisterInterval() time.Duration {
	return time.Duration(s.registerInterval) * time.Second
}

func (s *Settings) RegisterExponential() bool { return s.registerExponential }

func (s *Settings) APIBind() string { return s.apiBind }

func (s *Settings) HassURL() string    { return s.hassURL }
func (s *Settings) HassToken() string  { return s.hassToken }
func (s *Settings) HassPrefix() string { return s.hassPrefix }
