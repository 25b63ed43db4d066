package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/agentbox/internal/log"
	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
	"github.com/slok/agentbox/internal/utils/id"
)

// SecretSealer encrypts connector credentials.
type SecretSealer interface {
	SealSecrets(s model.ConnectorSecrets) ([]byte, error)
}

// ServiceConfig is the configuration for the connectors service.
type ServiceConfig struct {
	Repository storage.ConnectorRepository
	Sealer     SecretSealer
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Sealer == nil {
		return fmt.Errorf("sealer is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Connectors"})
	return nil
}

// Service manages the user connectors, credentials are sealed before being stored.
type Service struct {
	repo   storage.ConnectorRepository
	sealer SecretSealer
	logger log.Logger
}

// NewService creates a new connectors service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		sealer: cfg.Sealer,
		logger: cfg.Logger,
	}, nil
}

// PutRequest creates or replaces a user connector.
type PutRequest struct {
	UserID  string
	Name    string
	Type    model.ConnectorType
	Command string
	Args    []string
	URL     string
	Secrets model.ConnectorSecrets
}

// Put creates or replaces the connector with the same name of the user.
func (s *Service) Put(ctx context.Context, req PutRequest) (*model.Connector, error) {
	c := model.Connector{
		ID:        id.New(),
		UserID:    req.UserID,
		Name:      req.Name,
		Type:      req.Type,
		Command:   req.Command,
		Args:      req.Args,
		URL:       req.URL,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connector: %w", err)
	}

	if len(req.Secrets.Env) > 0 || len(req.Secrets.Headers) > 0 {
		sealed, err := s.sealer.SealSecrets(req.Secrets)
		if err != nil {
			return nil, fmt.Errorf("could not seal connector credentials: %w", err)
		}
		c.Sealed = sealed
	}

	if err := s.repo.UpsertConnector(ctx, c); err != nil {
		return nil, fmt.Errorf("could not save connector: %w", err)
	}
	s.logger.Infof("Saved %s connector %s of user %s", c.Type, c.Name, c.UserID)

	c.Sealed = nil
	return &c, nil
}

// List returns the connectors of a user without their credentials.
func (s *Service) List(ctx context.Context, userID string) ([]model.Connector, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required: %w", model.ErrNotValid)
	}
	cs, err := s.repo.ListConnectors(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("could not list connectors: %w", err)
	}
	for i := range cs {
		cs[i].Sealed = nil
	}
	return cs, nil
}

// Delete removes a user connector.
func (s *Service) Delete(ctx context.Context, userID, name string) error {
	if err := s.repo.DeleteConnector(ctx, userID, name); err != nil {
		return fmt.Errorf("could not delete connector: %w", err)
	}
	return nil
}
