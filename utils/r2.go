// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"party-matchmaking/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// R2Config holds the Cloudflare R2 bucket settings.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// Enabled reports whether enough is configured to talk to R2.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Archiver uploads match roster snapshots to R2.
type R2Archiver struct {
	client     objectPutter
	bucket     string
	cdnBaseURL string
}

func NewR2Archiver(ctx context.Context, cfg R2Config) (*R2Archiver, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load R2 config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	cdn := cfg.CDNBaseURL
	if cdn == "" {
		cdn = endpoint
	}
	return newR2Archiver(client, cfg.Bucket, cdn), nil
}

func newR2Archiver(client objectPutter, bucket, cdnBaseURL string) *R2Archiver {
	return &R2Archiver{
		client:     client,
		bucket:     bucket,
		cdnBaseURL: strings.TrimRight(cdnBaseURL, "/"),
	}
}

// RosterKey is the object key of a match's roster snapshot.
func RosterKey(matchID string) string {
	return fmt.Sprintf("matches/%s/roster.json", matchID)
}

// ArchiveRoster uploads the snapshot as JSON under RosterKey.
func (a *R2Archiver) ArchiveRoster(ctx context.Context, snapshot models.MatchRosterSnapshot) error {
	if snapshot.MatchID == "" {
		return eris.New("roster snapshot has no match id")
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		return eris.Wrap(err, "failed to encode roster snapshot")
	}

	key := RosterKey(snapshot.MatchID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return eris.Wrapf(err, "failed to upload roster of match %s to R2", snapshot.MatchID)
	}
	log.Debug().Str("match_id", snapshot.MatchID).Str("url", a.URL(key)).Msg("match roster archived")
	return nil
}

// URL returns the public URL of an archived object.
func (a *R2Archiver) URL(key string) string {
	return fmt.Sprintf("%s/%s", a.cdnBaseURL, key)
}
