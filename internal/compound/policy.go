package compound

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"vaultd/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Policy bounds enforced regardless of what an operator writes.
const (
	MaxSlippageBpsCeiling = 1000 // 10%
	MaxPayloadAgeCeiling  = time.Hour
)

// Policy is the executor's validation surface: the trusted signer, the
// slippage and age ceilings, and the caller allow-list. Snapshots are
// immutable; hot reload swaps the whole value.
type Policy struct {
	SignerKey         ed25519.PublicKey
	MaxSlippageBps    int64
	MaxPayloadAge     time.Duration
	Router            string
	AuthorizedCallers map[string]bool
}

// Authorized reports whether caller is on the allow-list.
func (p *Policy) Authorized(caller string) bool {
	if p == nil {
		return false
	}
	return p.AuthorizedCallers[strings.TrimSpace(caller)]
}

// PolicyValues is the raw, operator-editable policy shape.
type PolicyValues struct {
	SignerPubKey      string   `mapstructure:"signer_pubkey" yaml:"signer_pubkey"`
	MaxSlippageBps    int64    `mapstructure:"max_slippage_bps" yaml:"max_slippage_bps"`
	MaxPayloadAgeSec  int64    `mapstructure:"max_payload_age_sec" yaml:"max_payload_age_sec"`
	Router            string   `mapstructure:"router" yaml:"router"`
	AuthorizedCallers []string `mapstructure:"authorized_callers" yaml:"authorized_callers"`
}

const policySchemaJSON = `{
  "type": "object",
  "required": ["signer_pubkey", "max_slippage_bps", "max_payload_age_sec", "router"],
  "properties": {
    "signer_pubkey": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"},
    "max_slippage_bps": {"type": "integer", "minimum": 1, "maximum": 1000},
    "max_payload_age_sec": {"type": "integer", "minimum": 1, "maximum": 3600},
    "router": {"type": "string", "minLength": 1},
    "authorized_callers": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

var policySchema = jsonschema.MustCompileString("policy.json", policySchemaJSON)

// BuildPolicy validates raw values and compiles the immutable snapshot.
func BuildPolicy(values PolicyValues) (*Policy, error) {
	key, err := hex.DecodeString(strings.TrimSpace(values.SignerPubKey))
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signer_pubkey must be %d hex bytes", ed25519.PublicKeySize)
	}
	if values.MaxSlippageBps <= 0 || values.MaxSlippageBps > MaxSlippageBpsCeiling {
		return nil, fmt.Errorf("max_slippage_bps %d out of range (1..%d)", values.MaxSlippageBps, MaxSlippageBpsCeiling)
	}
	age := time.Duration(values.MaxPayloadAgeSec) * time.Second
	if age <= 0 || age > MaxPayloadAgeCeiling {
		return nil, fmt.Errorf("max_payload_age_sec %d out of range (1..%d)", values.MaxPayloadAgeSec, int64(MaxPayloadAgeCeiling/time.Second))
	}
	router := strings.TrimSpace(values.Router)
	if router == "" {
		return nil, fmt.Errorf("router cannot be empty")
	}
	callers := make(map[string]bool, len(values.AuthorizedCallers))
	for _, c := range values.AuthorizedCallers {
		c = strings.TrimSpace(c)
		if c != "" {
			callers[c] = true
		}
	}
	return &Policy{
		SignerKey:         ed25519.PublicKey(key),
		MaxSlippageBps:    values.MaxSlippageBps,
		MaxPayloadAge:     age,
		Router:            router,
		AuthorizedCallers: callers,
	}, nil
}

// PolicyRegistry loads the policy file and watches it for updates. Reads are
// lock-free snapshot swaps; a broken edit keeps the last good policy.
type PolicyRegistry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	policy    *Policy
	loadedAt  time.Time
	listeners []func(*Policy)
}

// NewPolicyRegistry reads the policy file and begins watching it.
func NewPolicyRegistry(path string) (*PolicyRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("policy registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file failed: %w", err)
	}
	r := &PolicyRegistry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("policy reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// NewStaticPolicyRegistry wraps a fixed policy without file watching.
func NewStaticPolicyRegistry(p *Policy) *PolicyRegistry {
	return &PolicyRegistry{policy: p, loadedAt: time.Now()}
}

func (r *PolicyRegistry) reload() error {
	values, err := readPolicyFile(r.path)
	if err != nil {
		return err
	}
	policy, err := BuildPolicy(values)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.policy = policy
	r.loadedAt = time.Now()
	r.mu.Unlock()
	logger.Infof("executor policy loaded: slippage<=%dbps age<=%s callers=%d", policy.MaxSlippageBps, policy.MaxPayloadAge, len(policy.AuthorizedCallers))
	return nil
}

// Policy returns the current snapshot.
func (r *PolicyRegistry) Policy() *Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// OnChange registers a reload listener.
func (r *PolicyRegistry) OnChange(fn func(*Policy)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *PolicyRegistry) notifyListeners() {
	r.mu.RLock()
	policy := r.policy
	listeners := make([]func(*Policy), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(policy)
	}
}

// readPolicyFile parses and schema-checks the policy file. Unknown keys are
// rejected so a typoed field never silently loosens a bound.
func readPolicyFile(path string) (PolicyValues, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PolicyValues{}, fmt.Errorf("read policy file failed: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return PolicyValues{}, fmt.Errorf("parse policy file failed: %w", err)
	}
	jsonDoc, err := schemaDocument(doc)
	if err != nil {
		return PolicyValues{}, fmt.Errorf("policy not representable as JSON: %w", err)
	}
	if err := policySchema.Validate(jsonDoc); err != nil {
		return PolicyValues{}, fmt.Errorf("policy schema validation failed: %w", err)
	}

	var values PolicyValues
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&values); err != nil {
		return PolicyValues{}, fmt.Errorf("decode policy failed: %w", err)
	}
	return values, nil
}

// schemaDocument round-trips a decoded document through JSON so the compiled
// schema sees encoding/json value types.
func schemaDocument(doc map[string]any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
