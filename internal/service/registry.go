package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/ptyd/internal/shared/types"
)

var (
	// ErrServiceNotFound is returned when no provider owns a tool's prefix.
	ErrServiceNotFound = errors.New("service not found")
	// ErrInvalidToolID is returned for tool ids without a service prefix.
	ErrInvalidToolID = errors.New("invalid tool ID format")
)

// Registry manages service discovery and execution
type Registry struct {
	services sync.Map
}

// Provider interface for service implementations
type Provider interface {
	Definition() types.Service
	Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error)
}

// NewRegistry creates a new service registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a service provider
func (r *Registry) Register(provider Provider) error {
	def := provider.Definition()
	if def.ID == "" {
		return fmt.Errorf("service ID cannot be empty")
	}

	r.services.Store(def.ID, provider)
	return nil
}

// Get retrieves a service by ID
func (r *Registry) Get(serviceID string) (Provider, bool) {
	val, ok := r.services.Load(serviceID)
	if !ok {
		return nil, false
	}
	return val.(Provider), true
}

// List returns registered services sorted by id, optionally filtered by
// category.
func (r *Registry) List(category *types.Category) []types.Service {
	services := []types.Service{}
	r.services.Range(func(_, value interface{}) bool {
		def := value.(Provider).Definition()
		if category == nil || def.Category == *category {
			services = append(services, def)
		}
		return true
	})
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services
}

// Tool looks up a tool definition by its full id.
func (r *Registry) Tool(toolID string) (types.Tool, bool) {
	serviceID, _, ok := strings.Cut(toolID, ".")
	if !ok {
		return types.Tool{}, false
	}
	provider, ok := r.Get(serviceID)
	if !ok {
		return types.Tool{}, false
	}
	for _, tool := range provider.Definition().Tools {
		if tool.ID == toolID {
			return tool, true
		}
	}
	return types.Tool{}, false
}

// Discover finds relevant services for a given intent
func (r *Registry) Discover(intent string, limit int) []types.Service {
	type scoredService struct {
		service types.Service
		score   float64
	}

	intentLower := strings.ToLower(intent)
	var results []scoredService

	r.services.Range(func(_, value interface{}) bool {
		def := value.(Provider).Definition()
		if score := calculateRelevance(intentLower, def); score > 0 {
			results = append(results, scoredService{service: def, score: score})
		}
		return true
	})

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].service.ID < results[j].service.ID
	})

	output := make([]types.Service, 0, limit)
	for i := 0; i < len(results) && i < limit; i++ {
		output = append(output, results[i].service)
	}
	return output
}

// Execute runs a service tool. Tool ids are "<service>.<tool>".
func (r *Registry) Execute(ctx context.Context, toolID string, params map[string]interface{}, appCtx *types.Context) (*types.Result, error) {
	serviceID, _, ok := strings.Cut(toolID, ".")
	if !ok || serviceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToolID, toolID)
	}

	provider, ok := r.Get(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	return provider.Execute(ctx, toolID, params, appCtx)
}

// Stats returns registry statistics
func (r *Registry) Stats() map[string]interface{} {
	var total, totalTools int
	categories := make(map[string]int)

	r.services.Range(func(_, value interface{}) bool {
		def := value.(Provider).Definition()
		total++
		totalTools += len(def.Tools)
		categories[string(def.Category)]++
		return true
	})

	return map[string]interface{}{
		"total_services": total,
		"total_tools":    totalTools,
		"categories":     categories,
	}
}

func calculateRelevance(intent string, service types.Service) float64 {
	score := 0.0

	if strings.Contains(intent, service.ID) || strings.Contains(intent, strings.ToLower(service.Name)) {
		score += 10.0
	}

	for _, word := range strings.Fields(strings.ToLower(service.Description)) {
		if len(word) > 3 && strings.Contains(intent, word) {
			score += 5.0
		}
	}

	for _, capability := range service.Capabilities {
		if strings.Contains(intent, strings.ReplaceAll(strings.ToLower(capability), "_", " ")) {
			score += 3.0
		}
	}

	for _, tool := range service.Tools {
		if strings.Contains(intent, strings.ToLower(tool.Name)) {
			score += 4.0
		}
	}

	if strings.Contains(intent, string(service.Category)) {
		score += 2.0
	}

	return score
}
