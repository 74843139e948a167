package consultation

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"drcare/internal/agent"
)

const (
	previewPrefix      = "/api/previews/"
	defaultPreviewKeep = 32
)

// PreviewStore keeps recently uploaded images so the panel can show them.
// The oldest preview is evicted once the store is full.
type PreviewStore struct {
	mu    sync.RWMutex
	keep  int
	order []string
	items map[string]agent.Image
}

func NewPreviewStore(keep int) *PreviewStore {
	if keep <= 0 {
		keep = defaultPreviewKeep
	}
	return &PreviewStore{keep: keep, items: make(map[string]agent.Image)}
}

// Put stores img and returns its preview reference.
func (p *PreviewStore) Put(img agent.Image) string {
	id := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[id] = img
	p.order = append(p.order, id)
	for len(p.order) > p.keep {
		delete(p.items, p.order[0])
		p.order = p.order[1:]
	}
	return previewPrefix + id
}

// Get accepts either a bare id or a full preview reference.
func (p *PreviewStore) Get(ref string) (agent.Image, bool) {
	id := strings.TrimPrefix(ref, previewPrefix)
	p.mu.RLock()
	defer p.mu.RUnlock()
	img, ok := p.items[id]
	return img, ok
}
