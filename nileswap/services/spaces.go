// services/spaces.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// SpacesService talks to the DigitalOcean Spaces bucket that holds the
// card art. The swap service only reads: it builds public CDN URLs for
// market summaries and checks the bucket is reachable at startup.
type SpacesService struct {
	client   *s3.Client
	bucket   string
	region   string
	CardRoot string
}

func NewSpacesService(spacesKey, spacesSecret, region, bucket, cardRoot string) (*SpacesService, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
		}, nil
	})

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(spacesKey, spacesSecret, "")),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load Spaces config: %w", err)
	}

	return &SpacesService{
		client:   s3.NewFromConfig(cfg),
		bucket:   bucket,
		region:   region,
		CardRoot: strings.TrimPrefix(cardRoot, "/"),
	}, nil
}

// Ping verifies the bucket is reachable with the configured credentials.
func (s *SpacesService) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &s.bucket,
	})
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ImageURL builds the public CDN URL for a stored image path. Empty
// paths stay empty so the UI can fall back to a placeholder.
func (s *SpacesService) ImageURL(imagePath string) string {
	if imagePath == "" {
		return ""
	}
	key := strings.TrimPrefix(imagePath, "/")
	if s.CardRoot != "" {
		key = s.CardRoot + "/" + key
	}
	return fmt.Sprintf("https://%s.%s.digitaloceanspaces.com/%s", s.bucket, s.region, key)
}

func (s *SpacesService) GetBucket() string {
	return s.bucket
}
