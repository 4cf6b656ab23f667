package control

import (
	"context"
	"sync"
	"testing"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/entity"
	"p4ctl/p4rtest"
)

// recordingClient is an EntityClient that keeps every write and answers
// reads from a canned response.
type recordingClient struct {
	catalog *entity.Catalog

	mu       sync.Mutex
	writes   [][]*v1.Update
	reads    [][]*v1.Entity
	response []*v1.Entity
	fail     func(*v1.Update) error
}

func newRecordingClient(t *testing.T) *recordingClient {
	t.Helper()
	catalog, err := entity.FromP4Info(p4rtest.ExampleP4Info())
	if err != nil {
		t.Fatalf("FromP4Info: %v", err)
	}
	return &recordingClient{catalog: catalog}
}

func (r *recordingClient) Catalog() (*entity.Catalog, error) {
	return r.catalog, nil
}

func (r *recordingClient) WriteUpdate(ctx context.Context, update *v1.Update) error {
	return r.WriteUpdates(ctx, update)
}

func (r *recordingClient) WriteUpdates(_ context.Context, updates ...*v1.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, updates)
	if r.fail != nil {
		for _, u := range updates {
			if err := r.fail(u); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *recordingClient) ReadEntities(ctx context.Context, entities []*v1.Entity) (chan *v1.Entity, error) {
	res, err := r.ReadEntitiesSync(ctx, entities)
	if err != nil {
		return nil, err
	}
	ch := make(chan *v1.Entity, len(res))
	for _, e := range res {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func (r *recordingClient) ReadEntitiesSync(_ context.Context, entities []*v1.Entity) ([]*v1.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, entities)
	return r.response, nil
}

func (r *recordingClient) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *recordingClient) lastWrite(t *testing.T) []*v1.Update {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.writes) == 0 {
		t.Fatal("no write recorded")
	}
	return r.writes[len(r.writes)-1]
}
