package rules

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/appconfig"
	"github.com/aws/aws-sdk-go/service/appconfig/appconfigiface"
	"github.com/google/uuid"
)

// AppConfigFetcher pulls the policy document from AWS AppConfig. The
// client ID is fixed per fetcher so AppConfig deployment strategies see a
// stable caller identity.
type AppConfigFetcher struct {
	client      appconfigiface.AppConfigAPI
	application string
	environment string
	profile     string
	clientID    string
}

func NewAppConfigFetcher(client appconfigiface.AppConfigAPI, application, environment, profile string) *AppConfigFetcher {
	return &AppConfigFetcher{
		client:      client,
		application: application,
		environment: environment,
		profile:     profile,
		clientID:    uuid.NewString(),
	}
}

func (f *AppConfigFetcher) Fetch(ctx context.Context) ([]byte, string, error) {
	out, err := f.client.GetConfigurationWithContext(ctx, &appconfig.GetConfigurationInput{
		Application:   aws.String(f.application),
		Environment:   aws.String(f.environment),
		Configuration: aws.String(f.profile),
		ClientId:      aws.String(f.clientID),
	})
	if err != nil {
		return nil, "", fmt.Errorf("appconfig get configuration: %w", err)
	}
	return out.Content, aws.StringValue(out.ConfigurationVersion), nil
}
