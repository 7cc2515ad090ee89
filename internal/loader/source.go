package loader

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/time/rate"

	"factorpanel/internal/config"
	apperrors "factorpanel/internal/errors"
)

// SourceInfo describes an input as it was read
type SourceInfo struct {
	Location string `json:"location"`
	Bytes    int64  `json:"bytes"`
	// Digest is the hex BLAKE2b-256 of the raw bytes
	Digest string `json:"digest"`
}

// Source opens input locations. Remote locations are fetched over HTTP,
// everything else is read from the local file system. Every location read
// to the end is fingerprinted.
type Source struct {
	client  *http.Client
	limiter *rate.Limiter

	mu   sync.Mutex
	seen map[string]SourceInfo
}

// NewSource returns a Source whose remote fetches use client and wait on
// limiter. A nil limiter does not throttle.
func NewSource(client *http.Client, limiter *rate.Limiter) *Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{
		client:  client,
		limiter: limiter,
		seen:    make(map[string]SourceInfo),
	}
}

// NewLimiter returns the limiter for rps remote requests per second.
// rps <= 0 means unlimited.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Open returns a reader for location. Closing it drains the remaining
// bytes into the fingerprint.
func (s *Source) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if location == "" {
		return nil, apperrors.NewLoadError("input", fmt.Errorf("empty location"))
	}

	var rc io.ReadCloser
	var err error
	if config.IsRemote(location) {
		rc, err = s.fetch(ctx, location)
	} else {
		rc, err = os.Open(location)
		if err != nil {
			err = apperrors.NewLoadError(location, err)
		}
	}
	if err != nil {
		return nil, err
	}

	h, _ := blake2b.New256(nil)
	return &digestReader{rc: rc, hash: h, location: location, record: s.record}, nil
}

// Info returns the fingerprint of a location that was read and closed
func (s *Source) Info(location string) (SourceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.seen[location]
	return info, ok
}

func (s *Source) record(info SourceInfo) {
	s.mu.Lock()
	s.seen[info.Location] = info
	s.mu.Unlock()
}

func (s *Source) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, apperrors.NewLoadError(url, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewLoadError(url, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.NewLoadError(url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.NewLoadError(url, fmt.Errorf("unexpected status %s", resp.Status)).
			WithContext("status", resp.StatusCode)
	}
	return resp.Body, nil
}

// digestReader hashes everything read through it
type digestReader struct {
	rc       io.ReadCloser
	hash     hash.Hash
	n        int64
	location string
	record   func(SourceInfo)
	once     sync.Once
	err      error
}

func (r *digestReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.hash.Write(p[:n])
		r.n += int64(n)
	}
	return n, err
}

// Close drains the reader so partial parses still fingerprint the whole
// input. A failed drain records nothing.
func (r *digestReader) Close() error {
	r.once.Do(func() {
		_, drainErr := io.Copy(io.Discard, r)
		r.err = r.rc.Close()
		if drainErr == nil {
			r.record(SourceInfo{
				Location: r.location,
				Bytes:    r.n,
				Digest:   hex.EncodeToString(r.hash.Sum(nil)),
			})
		}
	})
	return r.err
}
