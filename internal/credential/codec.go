package credential

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"transit-ticket/internal/status"
	"transit-ticket/models"
)

const signatureSize = ed25519.SignatureSize

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("credential: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("credential: cbor decoder: " + err.Error())
	}
}

// Claims is the signed payload carried inside a ticket token.
type Claims struct {
	TicketID  string `cbor:"1,keyasint"`
	OwnerID   string `cbor:"2,keyasint"`
	Kind      string `cbor:"3,keyasint"`
	ID        string `cbor:"4,keyasint"`
	IssuedAt  int64  `cbor:"5,keyasint"`
	ExpiresAt int64  `cbor:"6,keyasint,omitempty"`
}

// Resolution is the outcome of resolving a scanned credential. Verified is
// false when the ticket id was taken from a bare identifier.
type Resolution struct {
	TicketID string
	OwnerID  string
	Verified bool
}

type Options struct {
	TokenTTL   time.Duration
	AllowRawID bool
	Logger     *slog.Logger
}

// Codec issues and resolves ticket credentials. With a nil private key it
// issues credentials without a token; with a nil public key every scan goes
// through the raw-id path.
type Codec struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
	opts    Options
	logger  *slog.Logger
}

func NewCodec(public ed25519.PublicKey, private ed25519.PrivateKey, opts Options) *Codec {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{public: public, private: private, opts: opts, logger: logger}
}

// Issue builds the immutable credential for a freshly allocated ticket.
func (c *Codec) Issue(ticketID, ownerID string, kind models.Kind, now time.Time) (models.Credential, error) {
	cred := models.Credential{
		TicketID: ticketID,
		OwnerID:  ownerID,
		Type:     kind,
		IssuedAt: now.UTC(),
	}
	if c.private == nil {
		return cred, nil
	}

	claims := Claims{
		TicketID: ticketID,
		OwnerID:  ownerID,
		Kind:     string(kind),
		ID:       uuid.NewString(),
		IssuedAt: now.Unix(),
	}
	if c.opts.TokenTTL > 0 {
		claims.ExpiresAt = now.Add(c.opts.TokenTTL).Unix()
	}

	payload, err := encMode.Marshal(claims)
	if err != nil {
		return models.Credential{}, fmt.Errorf("encode claims: %w", err)
	}
	sig := ed25519.Sign(c.private, payload)

	raw := make([]byte, 0, len(payload)+signatureSize)
	raw = append(raw, payload...)
	raw = append(raw, sig...)
	cred.Token = base64.RawURLEncoding.EncodeToString(raw)
	return cred, nil
}

// Resolve turns a scanned credential into a ticket id. A token that looks
// signed is verified and never falls back to the raw-id path.
func (c *Codec) Resolve(raw string) (Resolution, error) {
	return c.ResolveAt(raw, time.Now())
}

func (c *Codec) ResolveAt(raw string, now time.Time) (Resolution, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolution{}, fmt.Errorf("%w: empty credential", status.ErrInvalidCredential)
	}

	if c.public != nil {
		if decoded, ok := signedShape(raw); ok {
			claims, err := c.verify(decoded, now)
			if err != nil {
				return Resolution{}, err
			}
			return Resolution{TicketID: claims.TicketID, OwnerID: claims.OwnerID, Verified: true}, nil
		}
	}

	if !c.opts.AllowRawID {
		return Resolution{}, fmt.Errorf("%w: unsigned credential", status.ErrInvalidCredential)
	}
	c.logger.Warn("Resolving unsigned credential as raw ticket id", "ticket_id", raw)
	return Resolution{TicketID: raw}, nil
}

func (c *Codec) verify(token []byte, now time.Time) (*Claims, error) {
	payload := token[:len(token)-signatureSize]
	sig := token[len(token)-signatureSize:]

	if !ed25519.Verify(c.public, payload, sig) {
		return nil, fmt.Errorf("%w: bad signature", status.ErrInvalidCredential)
	}

	var claims Claims
	if err := decMode.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: decode claims: %v", status.ErrInvalidCredential, err)
	}
	if claims.TicketID == "" {
		return nil, fmt.Errorf("%w: missing ticket id", status.ErrInvalidCredential)
	}
	if claims.ExpiresAt != 0 && now.Unix() >= claims.ExpiresAt {
		return nil, fmt.Errorf("%w: token expired", status.ErrInvalidCredential)
	}
	return &claims, nil
}

// signedShape reports whether raw decodes as base64url into something long
// enough to hold a payload and a signature. Bare record ids never do.
func signedShape(raw string) ([]byte, bool) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(decoded) <= signatureSize {
		return nil, false
	}
	return decoded, true
}
