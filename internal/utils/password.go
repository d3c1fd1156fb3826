package utils

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// ErrHasherClosed is returned when a job is submitted after Close.
var ErrHasherClosed = errors.New("password hasher closed")

const (
	hashSaltLen        = 16
	hashKeyLen  uint32 = 32
)

// HashParams are the argon2id cost parameters.  Memory is in KiB.
type HashParams struct {
	Time        uint32
	Memory      uint32
	Parallelism uint8
}

// DefaultHashParams matches the service defaults (t=2, m=32 MiB, p=1).
var DefaultHashParams = HashParams{Time: 2, Memory: 32 * 1024, Parallelism: 1}

type hashJob struct {
	run  func()
	done chan struct{}
}

// Hasher hashes and verifies passwords with argon2id on a fixed set of
// worker goroutines.  Request goroutines only enqueue jobs and wait, so
// the number of concurrent argon2 computations (and their memory) is
// bounded by the worker count no matter how many requests are in flight.
type Hasher struct {
	params  HashParams
	workers int
	jobs    chan hashJob

	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup

	// Observe, when set, receives the duration in seconds of each job.
	Observe func(op string, seconds float64)
}

// NewHasher returns a Hasher with the given parameters and pool size.
// Start must be called before use; it is safe to call more than once.
func NewHasher(params HashParams, workers int) *Hasher {
	if workers < 1 {
		workers = 1
	}
	return &Hasher{params: params, workers: workers, jobs: make(chan hashJob, workers*4)}
}

// Start launches the worker goroutines.  Subsequent calls are no-ops.
func (h *Hasher) Start() {
	h.startOnce.Do(func() {
		for i := 0; i < h.workers; i++ {
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				for j := range h.jobs {
					j.run()
					close(j.done)
				}
			}()
		}
	})
}

// Close stops accepting work and waits for queued jobs to finish.
func (h *Hasher) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.jobs)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// submit hands fn to the pool and waits for it.  If ctx ends before a
// worker picks the job up, the job is abandoned; once running it always
// completes.
func (h *Hasher) submit(ctx context.Context, fn func()) error {
	h.Start()
	j := hashJob{run: fn, done: make(chan struct{})}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHasherClosed
	}
	select {
	case h.jobs <- j:
		h.mu.RUnlock()
	case <-ctx.Done():
		h.mu.RUnlock()
		return ctx.Err()
	}
	<-j.done
	return nil
}

// Hash returns an argon2id PHC string for plain using a fresh random salt,
// so two calls on the same password never produce the same string.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	var encoded string
	err := h.submit(ctx, h.timed("hash", func() {
		p := h.params
		sum := argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Parallelism, hashKeyLen)
		encoded = fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
			argon2.Version, p.Memory, p.Time, p.Parallelism,
			base64.RawStdEncoding.EncodeToString(salt),
			base64.RawStdEncoding.EncodeToString(sum),
		)
	}))
	if err != nil {
		return "", err
	}
	return encoded, nil
}

// Verify checks plain against an encoded hash.  A mismatch and a
// malformed hash both yield false with a nil error; the error is only
// set when the job could not be run at all.
func (h *Hasher) Verify(ctx context.Context, plain, encoded string) (bool, error) {
	d, err := decodeHash(encoded)
	if err != nil {
		return false, nil
	}
	var ok bool
	err = h.submit(ctx, h.timed("verify", func() {
		actual := argon2.IDKey([]byte(plain), d.salt, d.params.Time, d.params.Memory, d.params.Parallelism, uint32(len(d.key)))
		ok = subtle.ConstantTimeCompare(actual, d.key) == 1
	}))
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (h *Hasher) timed(op string, fn func()) func() {
	if h.Observe == nil {
		return fn
	}
	return func() {
		start := time.Now()
		fn()
		h.Observe(op, time.Since(start).Seconds())
	}
}

type decodedHash struct {
	params HashParams
	salt   []byte
	key    []byte
}

var errInvalidHash = errors.New("invalid password hash")

func decodeHash(encoded string) (decodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return decodedHash{}, errInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return decodedHash{}, errInvalidHash
	}
	var d decodedHash
	var mem, t, p uint64
	for _, kv := range strings.Split(parts[3], ",") {
		name, val, found := strings.Cut(kv, "=")
		if !found {
			return decodedHash{}, errInvalidHash
		}
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return decodedHash{}, errInvalidHash
		}
		switch name {
		case "m":
			mem = n
		case "t":
			t = n
		case "p":
			p = n
		default:
			return decodedHash{}, errInvalidHash
		}
	}
	if mem == 0 || t == 0 || p == 0 || p > 255 {
		return decodedHash{}, errInvalidHash
	}
	d.params = HashParams{Time: uint32(t), Memory: uint32(mem), Parallelism: uint8(p)}
	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return decodedHash{}, errInvalidHash
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) == 0 {
		return decodedHash{}, errInvalidHash
	}
	return d, nil
}
