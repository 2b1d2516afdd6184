package mqttgw

import (
	"fmt"
	"strings"

	"github.com/librescoot/bms-gateway/internal/bmserr"
)

// Config holds everything the MQTT gateway needs to build and run a
// client: broker connection, security policy, and the device identifier
// that fills <dev> in every topic.
type Config struct {
	BrokerURI string
	Username  string
	Password  string
	KeepAlive int
	DefaultQoS byte
	Retain    bool

	TLSEnabled        bool
	VerifyServer      bool
	ClientCertEnabled bool
	CAPem             []byte
	CertPem           []byte
	KeyPem            []byte

	DeviceID string
}

// tlsSchemes are the only URI schemes accepted when TLS is required.
var tlsSchemes = map[string]bool{
	"mqtts": true,
	"ssl":   true,
	"wss":   true,
}

// Validate enforces the URI policy: a plaintext scheme with TLS enabled
// is a security violation rejected at configuration time, not deferred
// to a failed connection attempt.
func (c Config) Validate() error {
	if c.DeviceID == "" {
		return bmserr.New(bmserr.CodeNotInitialized, "mqttgw.Config.Validate")
	}
	scheme, _, ok := strings.Cut(c.BrokerURI, "://")
	if !ok {
		return bmserr.Wrap(bmserr.CodeInsecureURI, "mqttgw.Config.Validate",
			fmt.Errorf("broker URI %q has no scheme", c.BrokerURI))
	}
	if c.TLSEnabled && !tlsSchemes[strings.ToLower(scheme)] {
		return bmserr.Wrap(bmserr.CodeInsecureURI, "mqttgw.Config.Validate",
			fmt.Errorf("scheme %q is not permitted when TLS is required", scheme))
	}
	return nil
}
