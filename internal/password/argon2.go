package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/dtroode/authkeeper/internal/model"
)

const (
	algorithmID = "argon2id"

	saltLength = 16
	keyLength  = 32
)

var (
	ErrInvalidHash         = errors.New("invalid password hash format")
	ErrUnsupportedHash     = errors.New("unsupported password hash algorithm")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// Params are argon2id cost parameters.
type Params struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
}

// Hasher hashes passwords with argon2id and encodes them in PHC string
// format. It also verifies legacy bcrypt hashes.
type Hasher struct {
	params Params
	rand   io.Reader
}

var _ model.PasswordHasher = (*Hasher)(nil)

// NewHasher creates argon2id hasher.
func NewHasher(params Params) (*Hasher, error) {
	if params.Time < 1 {
		return nil, errors.New("argon2 time cost must be at least 1")
	}
	if params.Parallelism < 1 {
		return nil, errors.New("argon2 parallelism must be at least 1")
	}
	if params.MemoryKiB < 8*uint32(params.Parallelism) {
		return nil, fmt.Errorf("argon2 memory must be at least %d KiB", 8*uint32(params.Parallelism))
	}

	return &Hasher{
		params: params,
		rand:   rand.Reader,
	}, nil
}

// Hash returns PHC encoded argon2id hash of the password.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Parallelism, keyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks password against encoded hash.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("failed to verify bcrypt hash: %w", err)
		}
	}

	phc, err := decode(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), phc.salt, phc.params.Time, phc.params.MemoryKiB, phc.params.Parallelism, uint32(len(phc.key)))

	return subtle.ConstantTimeCompare(key, phc.key) == 1, nil
}

// NeedsRehash reports whether encoded hash was produced with weaker
// parameters or another algorithm.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}

	phc, err := decode(encoded)
	if err != nil {
		return true
	}

	return phc.params.MemoryKiB < h.params.MemoryKiB ||
		phc.params.Time < h.params.Time ||
		phc.params.Parallelism < h.params.Parallelism ||
		len(phc.key) != keyLength
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

type phcHash struct {
	params Params
	salt   []byte
	key    []byte
}

func decode(encoded string) (phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return phcHash{}, ErrInvalidHash
	}
	if parts[1] != algorithmID {
		return phcHash{}, ErrUnsupportedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return phcHash{}, ErrInvalidHash
	}
	if version != argon2.Version {
		return phcHash{}, ErrIncompatibleVersion
	}

	params, err := decodeParams(parts[3])
	if err != nil {
		return phcHash{}, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return phcHash{}, ErrInvalidHash
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return phcHash{}, ErrInvalidHash
	}

	return phcHash{params: params, salt: salt, key: key}, nil
}

func decodeParams(s string) (Params, error) {
	var params Params
	seen := 0

	for _, kv := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return Params{}, ErrInvalidHash
		}

		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return Params{}, ErrInvalidHash
		}

		switch key {
		case "m":
			params.MemoryKiB = uint32(n)
		case "t":
			params.Time = uint32(n)
		case "p":
			if n > 255 {
				return Params{}, ErrInvalidHash
			}
			params.Parallelism = uint8(n)
		default:
			return Params{}, ErrInvalidHash
		}
		seen++
	}

	if seen != 3 || params.Time == 0 || params.Parallelism == 0 || params.MemoryKiB == 0 {
		return Params{}, ErrInvalidHash
	}

	return params, nil
}
