package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

type sleeperFake struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleeperFake) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleeperFake) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.slept {
		if v == d {
			n++
		}
	}
	return n
}

type imageryFake struct {
	mu sync.Mutex

	scenes    []domain.SceneCandidate
	searchErr error

	// orderErrs are returned by successive PlaceOrder calls before one succeeds.
	orderErrs  []error
	orderCalls int
	searches   int
	labels     []string

	// statuses are returned by successive GetOrderStatus calls; the last repeats.
	statuses   []domain.OrderState
	statusErrs []error
	polls      int

	assets       map[string][]byte
	downloadErrs map[string]error
	// flakyDownloads fails a URL with a temporary error this many times before serving it.
	flakyDownloads map[string]int
	downloadCalls  int

	events *[]string
}

func (f *imageryFake) record(event string) {
	if f.events != nil {
		*f.events = append(*f.events, event)
	}
}

func (f *imageryFake) Search(_ context.Context, criteria domain.SearchCriteria) ([]domain.SceneCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	f.record("search")
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.scenes, nil
}

func (f *imageryFake) PlaceOrder(_ context.Context, sceneID string, _ domain.BoundingPolygon, labelSuffix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderCalls++
	f.record("place")
	f.labels = append(f.labels, sceneID+labelSuffix)
	if f.orderCalls <= len(f.orderErrs) && f.orderErrs[f.orderCalls-1] != nil {
		return "", f.orderErrs[f.orderCalls-1]
	}
	return fmt.Sprintf("order-%d", f.orderCalls), nil
}

func (f *imageryFake) GetOrderStatus(_ context.Context, orderID string) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	f.record("poll")
	if f.polls <= len(f.statusErrs) && f.statusErrs[f.polls-1] != nil {
		return domain.OrderState{}, f.statusErrs[f.polls-1]
	}
	idx := min(f.polls-1-len(f.statusErrs), len(f.statuses)-1)
	if idx < 0 {
		idx = 0
	}
	return f.statuses[idx], nil
}

func (f *imageryFake) DownloadAsset(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	f.record("download")
	if err := f.downloadErrs[url]; err != nil {
		return nil, err
	}
	if f.flakyDownloads[url] > 0 {
		f.flakyDownloads[url]--
		return nil, domain.WrapError(domain.ErrTemporary, "download "+url, errors.New("connection reset by peer"))
	}
	return f.assets[url], nil
}

type storeFake struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *storeFake) Save(_ context.Context, folder, filename string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[folder+"/"+filename] = data
	return nil
}

type recorderFake struct {
	mu           sync.Mutex
	placements   []domain.PlacementOutcome
	fulfillments []domain.FulfillmentOutcome
	runIDs       []string
	err          error
}

func (r *recorderFake) RecordPlacement(_ context.Context, runID string, outcome domain.PlacementOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placements = append(r.placements, outcome)
	r.runIDs = append(r.runIDs, runID)
	return r.err
}

func (r *recorderFake) RecordFulfillment(_ context.Context, runID string, outcome domain.FulfillmentOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fulfillments = append(r.fulfillments, outcome)
	r.runIDs = append(r.runIDs, runID)
	return r.err
}

func testUnit(site string) domain.WorkUnit {
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.WorkUnit{
		SiteID:      site,
		Latitude:    12.5,
		Longitude:   -3.25,
		WindowStart: start,
		WindowEnd:   start.Add(domain.WindowLength),
	}
}

func successState(urls ...string) domain.OrderState {
	assets := make([]domain.AssetDescriptor, 0, len(urls))
	for _, u := range urls {
		assets = append(assets, domain.AssetDescriptor{Name: "scene/" + u, DownloadURL: u})
	}
	return domain.OrderState{Status: domain.OrderSuccess, RawStatus: "success", Assets: assets}
}
