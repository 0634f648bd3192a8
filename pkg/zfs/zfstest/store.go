// Copyright © 2024 Zyncio

// Package zfstest provides a deterministic in-memory snapshot store for
// tests: sequential guids, synthetic replication streams that really carry
// the snapshot being transferred, resume token emulation and failure
// injection.
package zfstest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/zfs"
)

// DefaultStreamSize is the payload size of synthetic streams.
const DefaultStreamSize int64 = 1 << 10

type dataset struct {
	snaps model.Snapshots
	token string
}

// Store is an in-memory zfs.Store. The zero value is not usable, call New.
type Store struct {
	mu       sync.Mutex
	datasets map[string]*dataset
	nextGuid uint64
	now      time.Time

	streamSize int64

	failNext         map[string]error
	failAlways       map[string]error
	receiveFailAfter int64
	receiveFailErr   error
}

var _ zfs.Store = (*Store)(nil)

// New returns an empty store. Time starts at a fixed instant and advances
// one second per snapshot created, so creation order is total.
func New() *Store {
	return &Store{
		datasets:   make(map[string]*dataset),
		nextGuid:   1,
		now:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		streamSize: DefaultStreamSize,
		failNext:   make(map[string]error),
		failAlways: make(map[string]error),
	}
}

// AddDataset creates a dataset and any missing ancestors.
func (s *Store) AddDataset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDatasetLocked(name)
}

func (s *Store) addDatasetLocked(name string) {
	parts := strings.Split(name, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		if _, ok := s.datasets[prefix]; !ok {
			s.datasets[prefix] = &dataset{}
		}
	}
}

// AddSnapshot seeds a snapshot with an explicit creation time, creating the
// dataset as needed, and returns it.
func (s *Store) AddSnapshot(name, label string, at time.Time) model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDatasetLocked(name)
	snap := model.Snapshot{
		Dataset:   model.Dataset{Name: name},
		Label:     label,
		CreatedAt: at.UTC(),
		Guid:      s.nextGuid,
	}
	s.nextGuid++
	ds := s.datasets[name]
	ds.snaps = append(ds.snaps, snap)
	ds.snaps.Sort()
	return snap
}

// SetStreamSize changes the payload size of subsequently opened streams.
func (s *Store) SetStreamSize(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamSize = n
}

// FailNext makes the next call of the named operation (List, Create,
// Destroy, Rename, Exists, CreateDataset, ResumeToken, Send, SendResume,
// Receive, Guid) return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

// FailWith makes every call of the named operation return err until
// cleared with FailWith(op, nil).
func (s *Store) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failAlways, op)
		return
	}
	s.failAlways[op] = err
}

// FailReceiveAfter makes the next Receive consume n payload bytes and then
// fail with err, leaving a resume token behind when the receive was
// resumable.
func (s *Store) FailReceiveAfter(n int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveFailAfter = n
	s.receiveFailErr = err
}

// Token returns the resume token of a dataset without going through the
// Store interface.
func (s *Store) Token(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.datasets[name]; ok {
		return ds.token
	}
	return ""
}

func (s *Store) takeFailure(op string) error {
	if err, ok := s.failAlways[op]; ok {
		return err
	}
	err, ok := s.failNext[op]
	if ok {
		delete(s.failNext, op)
	}
	return err
}

func (s *Store) List(ctx context.Context, ds model.Dataset) (model.Snapshots, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("List"); err != nil {
		return nil, err
	}
	d, ok := s.datasets[ds.Name]
	if !ok {
		return nil, fmt.Errorf("cannot open %q: %w", ds.Name, model.ErrNotFound)
	}
	out := make(model.Snapshots, len(d.snaps))
	copy(out, d.snaps)
	return out, nil
}

func (s *Store) Children(ctx context.Context, ds model.Dataset) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Children"); err != nil {
		return nil, err
	}
	if _, ok := s.datasets[ds.Name]; !ok {
		return nil, fmt.Errorf("cannot open %q: %w", ds.Name, model.ErrNotFound)
	}
	names := []string{ds.Name}
	for name := range s.datasets {
		if strings.HasPrefix(name, ds.Name+"/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Create(ctx context.Context, ds model.Dataset, label string) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Create"); err != nil {
		return model.Snapshot{}, err
	}
	d, ok := s.datasets[ds.Name]
	if !ok {
		return model.Snapshot{}, fmt.Errorf("cannot open %q: %w", ds.Name, model.ErrNotFound)
	}
	for _, snap := range d.snaps {
		if snap.Label == label {
			return model.Snapshot{}, fmt.Errorf("snapshot %q: %w", ds.Name+"@"+label, model.ErrExists)
		}
	}
	s.now = s.now.Add(time.Second)
	snap := model.Snapshot{
		Dataset:   model.Dataset{Name: ds.Name},
		Label:     label,
		CreatedAt: s.now,
		Guid:      s.nextGuid,
	}
	s.nextGuid++
	d.snaps = append(d.snaps, snap)
	return snap, nil
}

func (s *Store) Destroy(ctx context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Destroy"); err != nil {
		return err
	}
	d, ok := s.datasets[snap.Dataset.Name]
	if !ok {
		return fmt.Errorf("cannot open %q: %w", snap.Dataset.Name, model.ErrNotFound)
	}
	for i, have := range d.snaps {
		if have.Label == snap.Label {
			d.snaps = append(d.snaps[:i], d.snaps[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("snapshot %q: %w", snap.FullName(), model.ErrNotFound)
}

func (s *Store) Rename(ctx context.Context, snap model.Snapshot, newLabel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Rename"); err != nil {
		return err
	}
	d, ok := s.datasets[snap.Dataset.Name]
	if !ok {
		return fmt.Errorf("cannot open %q: %w", snap.Dataset.Name, model.ErrNotFound)
	}
	for _, have := range d.snaps {
		if have.Label == newLabel {
			return fmt.Errorf("snapshot %q: %w", snap.Dataset.Name+"@"+newLabel, model.ErrExists)
		}
	}
	for i, have := range d.snaps {
		if have.Label == snap.Label {
			d.snaps[i].Label = newLabel
			return nil
		}
	}
	return fmt.Errorf("snapshot %q: %w", snap.FullName(), model.ErrNotFound)
}

func (s *Store) Exists(ctx context.Context, ds model.Dataset) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Exists"); err != nil {
		return false, err
	}
	_, ok := s.datasets[ds.Name]
	return ok, nil
}

func (s *Store) CreateDataset(ctx context.Context, ds model.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateDataset"); err != nil {
		return err
	}
	s.addDatasetLocked(ds.Name)
	return nil
}

func (s *Store) ResumeToken(ctx context.Context, ds model.Dataset) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ResumeToken"); err != nil {
		return "", err
	}
	d, ok := s.datasets[ds.Name]
	if !ok {
		return "", fmt.Errorf("cannot open %q: %w", ds.Name, model.ErrNotFound)
	}
	return d.token, nil
}

// streamHeader describes a synthetic replication stream. It travels as one
// JSON line followed by Size-Offset payload bytes.
type streamHeader struct {
	Base    uint64 `json:"base,omitempty"`
	Label   string `json:"label"`
	Created int64  `json:"created"`
	Guid    uint64 `json:"guid"`
	Size    int64  `json:"size"`
	Offset  int64  `json:"offset"`
	Raw     bool   `json:"raw,omitempty"`
}

func (s *Store) Send(ctx context.Context, base *model.Snapshot, snap model.Snapshot, opts zfs.SendOptions) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Send"); err != nil {
		return nil, err
	}
	d, ok := s.datasets[snap.Dataset.Name]
	if !ok {
		return nil, fmt.Errorf("cannot open %q: %w", snap.Dataset.Name, model.ErrNotFound)
	}
	if _, ok := d.snaps.ByGuid(snap.Guid); !ok {
		return nil, fmt.Errorf("snapshot %q: %w", snap.FullName(), model.ErrNotFound)
	}
	hdr := streamHeader{
		Label:   snap.Label,
		Created: snap.CreatedAt.Unix(),
		Guid:    snap.Guid,
		Size:    s.streamSize,
		Raw:     opts.Raw,
	}
	if base != nil {
		if _, ok := d.snaps.ByGuid(base.Guid); !ok {
			return nil, fmt.Errorf("incremental base %q: %w", base.FullName(), model.ErrNotFound)
		}
		hdr.Base = base.Guid
	}
	return encodeStream(hdr)
}

func (s *Store) SendResume(ctx context.Context, token string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("SendResume"); err != nil {
		return nil, err
	}
	var hdr streamHeader
	if err := json.Unmarshal([]byte(token), &hdr); err != nil {
		return nil, fmt.Errorf("resume token %q is not one of ours: %w", token, model.ErrIntegrity)
	}
	return encodeStream(hdr)
}

func encodeStream(hdr streamHeader) (io.ReadCloser, error) {
	head, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	payload := strings.NewReader(strings.Repeat("z", int(hdr.Size-hdr.Offset)))
	return io.NopCloser(io.MultiReader(
		strings.NewReader(string(head)+"\n"),
		payload,
	)), nil
}

func (s *Store) Receive(ctx context.Context, ds model.Dataset, r io.Reader, opts zfs.RecvOptions) error {
	s.mu.Lock()
	if err := s.takeFailure("Receive"); err != nil {
		s.mu.Unlock()
		return err
	}
	failAfter, failErr := s.receiveFailAfter, s.receiveFailErr
	s.receiveFailErr = nil
	s.mu.Unlock()

	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("stream header: %v: %w", err, model.ErrTransport)
	}
	var hdr streamHeader
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &hdr); err != nil {
		return fmt.Errorf("stream header: %v: %w", err, model.ErrTransport)
	}

	want := hdr.Size - hdr.Offset
	var got int64
	if failErr != nil && failAfter < want {
		got, _ = io.CopyN(io.Discard, br, failAfter)
		if opts.Resumable {
			resumed := hdr
			resumed.Offset += got
			token, _ := json.Marshal(resumed)
			s.setToken(ds.Name, string(token))
		}
		return failErr
	}
	got, err = io.Copy(io.Discard, br)
	if err != nil || got != want {
		if opts.Resumable {
			resumed := hdr
			resumed.Offset += got
			token, _ := json.Marshal(resumed)
			s.setToken(ds.Name, string(token))
		}
		return fmt.Errorf("stream truncated after %d of %d bytes: %w", got, want, model.ErrTransport)
	}

	return s.apply(ds, hdr)
}

func (s *Store) setToken(name, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDatasetLocked(name)
	s.datasets[name].token = token
}

func (s *Store) apply(ds model.Dataset, hdr streamHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.datasets[ds.Name]
	if hdr.Base == 0 {
		if !ok {
			s.addDatasetLocked(ds.Name)
			d = s.datasets[ds.Name]
		}
	} else {
		if !ok {
			return fmt.Errorf("cannot receive into %q: %w", ds.Name, model.ErrNotFound)
		}
		base, found := d.snaps.ByGuid(hdr.Base)
		if !found {
			return fmt.Errorf("incremental base %d not present on %q: %w", hdr.Base, ds.Name, model.ErrIntegrity)
		}
		// a forced receive rolls the dataset back to the base first
		kept := d.snaps[:0]
		for _, snap := range d.snaps {
			if !snap.CreatedAt.After(base.CreatedAt) {
				kept = append(kept, snap)
			}
		}
		d.snaps = kept
	}
	if _, ok := d.snaps.ByGuid(hdr.Guid); ok {
		return fmt.Errorf("snapshot %q: %w", ds.Name+"@"+hdr.Label, model.ErrExists)
	}
	d.snaps = append(d.snaps, model.Snapshot{
		Dataset:   model.Dataset{Name: ds.Name},
		Label:     hdr.Label,
		CreatedAt: time.Unix(hdr.Created, 0).UTC(),
		Guid:      hdr.Guid,
	})
	d.snaps.Sort()
	d.token = ""
	return nil
}

func (s *Store) Guid(ctx context.Context, snap model.Snapshot) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("Guid"); err != nil {
		return 0, err
	}
	d, ok := s.datasets[snap.Dataset.Name]
	if !ok {
		return 0, fmt.Errorf("cannot open %q: %w", snap.Dataset.Name, model.ErrNotFound)
	}
	for _, have := range d.snaps {
		if have.Label == snap.Label {
			return have.Guid, nil
		}
	}
	return 0, fmt.Errorf("snapshot %q: %w", snap.FullName(), model.ErrNotFound)
}
