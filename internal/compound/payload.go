package compound

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// SignedPayload is an externally authored conversion instruction. The call
// data is opaque: the executor binds it into the signed digest and forwards
// it to the router, nothing more.
type SignedPayload struct {
	TokenIn      string          `json:"token_in"`
	TokenOut     string          `json:"token_out"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	AmountOutMin decimal.Decimal `json:"amount_out_min"`
	Recipient    string          `json:"recipient"`
	Deadline     int64           `json:"deadline"` // unix seconds
	CallData     []byte          `json:"call_data"`
	Signature    []byte          `json:"signature"`
}

const payloadSchemaJSON = `{
  "type": "object",
  "required": ["token_in", "token_out", "amount_in", "amount_out_min", "recipient", "deadline", "call_data", "signature"],
  "properties": {
    "token_in": {"type": "string", "minLength": 1},
    "token_out": {"type": "string", "minLength": 1},
    "amount_in": {"anyOf": [{"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}, {"type": "number", "minimum": 0}]},
    "amount_out_min": {"anyOf": [{"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}, {"type": "number", "minimum": 0}]},
    "recipient": {"type": "string", "minLength": 1},
    "deadline": {"type": "integer", "minimum": 0},
    "call_data": {"type": "string"},
    "signature": {"type": "string", "minLength": 1}
  }
}`

var payloadSchema = jsonschema.MustCompileString("payload.json", payloadSchemaJSON)

type payloadWire struct {
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     string `json:"amount_in"`
	AmountOutMin string `json:"amount_out_min"`
	Recipient    string `json:"recipient"`
	Deadline     int64  `json:"deadline"`
	CallData     string `json:"call_data"`
	Signature    string `json:"signature"`
}

// DecodePayload parses raw bytes into a SignedPayload. Shape is checked with
// a compiled schema first, so error messages name the offending field instead
// of a stray token offset; the fields are then lifted out with gjson, which
// coerces amounts arriving as bare JSON numbers into their string form.
func DecodePayload(raw []byte) (*SignedPayload, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedPayload)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := payloadSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	fields := gjson.ParseBytes(raw)
	amountIn, err := decimal.NewFromString(fields.Get("amount_in").String())
	if err != nil {
		return nil, fmt.Errorf("%w: amount_in: %v", ErrMalformedPayload, err)
	}
	amountOutMin, err := decimal.NewFromString(fields.Get("amount_out_min").String())
	if err != nil {
		return nil, fmt.Errorf("%w: amount_out_min: %v", ErrMalformedPayload, err)
	}
	callData, err := base64.StdEncoding.DecodeString(fields.Get("call_data").String())
	if err != nil {
		return nil, fmt.Errorf("%w: call_data: %v", ErrMalformedPayload, err)
	}
	sig, err := base64.StdEncoding.DecodeString(fields.Get("signature").String())
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedPayload, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: signature length %d", ErrMalformedPayload, len(sig))
	}

	return &SignedPayload{
		TokenIn:      strings.TrimSpace(fields.Get("token_in").String()),
		TokenOut:     strings.TrimSpace(fields.Get("token_out").String()),
		AmountIn:     amountIn,
		AmountOutMin: amountOutMin,
		Recipient:    strings.TrimSpace(fields.Get("recipient").String()),
		Deadline:     fields.Get("deadline").Int(),
		CallData:     callData,
		Signature:    sig,
	}, nil
}

// Encode serializes a payload back to its wire form.
func (p *SignedPayload) Encode() ([]byte, error) {
	wire := payloadWire{
		TokenIn:      p.TokenIn,
		TokenOut:     p.TokenOut,
		AmountIn:     p.AmountIn.String(),
		AmountOutMin: p.AmountOutMin.String(),
		Recipient:    p.Recipient,
		Deadline:     p.Deadline,
		CallData:     base64.StdEncoding.EncodeToString(p.CallData),
		Signature:    base64.StdEncoding.EncodeToString(p.Signature),
	}
	return json.Marshal(wire)
}

// DeadlineTime is the payload expiry as a time.Time.
func (p *SignedPayload) DeadlineTime() time.Time {
	return time.Unix(p.Deadline, 0)
}

// Digest computes the deterministic hash over every structural field plus a
// hash of the opaque call data. Strings are length-prefixed so adjacent
// fields cannot be shifted into one another; amounts hash their normalized
// decimal form.
func (p *SignedPayload) Digest() [32]byte {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(p.TokenIn)
	writeField(p.TokenOut)
	writeField(p.AmountIn.String())
	writeField(p.AmountOutMin.String())
	writeField(p.Recipient)

	var deadlineBuf [8]byte
	binary.BigEndian.PutUint64(deadlineBuf[:], uint64(p.Deadline))
	h.Write(deadlineBuf[:])

	callHash := sha256.Sum256(p.CallData)
	h.Write(callHash[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DigestHex is the digest in replay-set key form.
func (p *SignedPayload) DigestHex() string {
	d := p.Digest()
	return hex.EncodeToString(d[:])
}

// Sign fills in the payload signature. Used by operator tooling and tests;
// the executor only ever verifies.
func (p *SignedPayload) Sign(priv ed25519.PrivateKey) {
	d := p.Digest()
	p.Signature = ed25519.Sign(priv, d[:])
}

// VerifySignature checks the payload signature against the trusted signer.
func (p *SignedPayload) VerifySignature(pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(p.Signature) != ed25519.SignatureSize {
		return false
	}
	d := p.Digest()
	return ed25519.Verify(pub, d[:], p.Signature)
}
