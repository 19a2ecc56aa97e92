package featureflags

import (
	"context"

	"incentive-controlplane/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

const ReconciliationCommit = "reconciliation_commit"

type FeatureFlag interface {
	// Enabled reports whether feature is on for identifier. Without a Flagsmith key every feature is on.
	Enabled(ctx context.Context, identifier, feature string) (bool, error)
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) Enabled(ctx context.Context, identifier, feature string) (bool, error) {
	if s.client == nil {
		return true, nil
	}

	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		zap.L().Warn("flagsmith lookup failed", zap.String("feature", feature), zap.Error(err))
		return false, err
	}

	return flags.IsFeatureEnabled(feature)
}

// Static is a fixed FeatureFlag, handy for tests and local runs.
type Static map[string]bool

func (s Static) Enabled(_ context.Context, _, feature string) (bool, error) {
	on, ok := s[feature]
	return !ok || on, nil
}
