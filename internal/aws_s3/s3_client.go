package aws_s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	netUrl "net/url"
	"os"

	"github.com/IliaW/page-renderer/config"
	"github.com/IliaW/page-renderer/internal"
	"github.com/IliaW/page-renderer/internal/model"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type BucketClient interface {
	WriteRender(context.Context, *model.RenderResult) (string, error)
}

type S3BucketClient struct {
	client *s3.Client
	cfg    *config.Config
}

func NewS3BucketClient(cfg *config.Config) *S3BucketClient {
	slog.Info("connecting to s3...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to s3.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3BucketClient{
		client: c,
		cfg:    cfg,
	}
}

// WriteRender stores the rendered artifact: the html document as text/html or the
// screenshot as a decoded png.
func (bc *S3BucketClient) WriteRender(ctx context.Context, res *model.RenderResult) (string, error) {
	s3Key, err := ArtifactKey(bc.cfg.S3Settings.KeyPrefix, res)
	if err != nil {
		slog.Error("failed to build s3 key.", slog.String("url", res.URL), slog.String("err", err.Error()))
		return "", err
	}
	body, contentType, err := artifact(res)
	if err != nil {
		slog.Error("failed to prepare artifact.", slog.String("err", err.Error()))
		return "", err
	}

	_, err = bc.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bc.cfg.S3Settings.BucketName,
		Key:         &s3Key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		slog.Error("failed to save render to s3.", slog.String("err", err.Error()))
		return "", err
	}
	slog.Debug("render saved to s3.", slog.String("key", s3Key))

	return s3Key, nil
}

func ArtifactKey(prefix string, res *model.RenderResult) (string, error) {
	u, err := netUrl.Parse(res.URL)
	if err != nil {
		return "", err
	}
	name := "screenshot.png"
	if res.Mode() == model.Document {
		name = "page.html"
	}
	return fmt.Sprintf("%s/%s/%s/%s", prefix, u.Host, internal.HashURL(res.URL), name), nil
}

func artifact(res *model.RenderResult) ([]byte, string, error) {
	switch {
	case res.HTML != nil:
		return []byte(*res.HTML), "text/html; charset=utf-8", nil
	case res.Screenshot != nil:
		buf, err := base64.StdEncoding.DecodeString(*res.Screenshot)
		return buf, "image/png", err
	}
	return nil, "", errors.New("render result has no artifact")
}

func connect(cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.S3Settings.Region))
	if err != nil {
		slog.Error("failed to load s3 config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		s3Config.BaseEndpoint = &cfg.S3Settings.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		// LocalStack does not support virtual host addressing, so use path style locally.
		slog.Warn("test configuration for S3")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}
