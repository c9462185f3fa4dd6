package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/interview-capture/internal/integration"
	"github.com/valter-silva-au/interview-capture/pkg/models"
)

var doctorOffline bool

// endpointCheckTimeout bounds the reachability request made by doctor.
var endpointCheckTimeout = 5 * time.Second

type checkResult struct {
	name   string
	ok     bool
	detail string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that recording and uploading can work on this machine",
	Long: `Check the configuration, the capture backend and the upload target.

For the ffmpeg backend this verifies the installed version and the VP8/VP9
and Opus encoders. For http uploads the endpoint is contacted unless
--offline is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil {
			return fmt.Errorf("configuration not loaded")
		}

		results := runDoctorChecks(commandContext(cmd))
		failed := printCheckResults(cmd.OutOrStdout(), results)
		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func runDoctorChecks(ctx context.Context) []checkResult {
	var results []checkResult
	results = append(results, checkBaseDir(BasePath))

	if ConfigMgr != nil {
		if err := ConfigMgr.ValidateConfig(Config); err != nil {
			results = append(results, checkResult{name: "config", detail: err.Error()})
		} else {
			results = append(results, checkResult{name: "config", ok: true, detail: "valid"})
		}
	}

	switch Config.Capture.Backend {
	case models.BackendGStreamer:
		if GStreamerAvailable {
			results = append(results, checkResult{name: "gstreamer", ok: true, detail: "built in"})
		} else {
			results = append(results, checkResult{name: "gstreamer", detail: "not built in, rebuild with -tags gstreamer"})
		}
	default:
		results = append(results, checkFFmpeg(integration.FFmpegOptionsFromConfig(Config.Capture))...)
	}

	switch Config.Upload.Target {
	case models.UploadTargetS3:
		results = append(results, checkResult{
			name:   "upload",
			ok:     Config.Upload.S3Bucket != "",
			detail: fmt.Sprintf("s3://%s/%s", Config.Upload.S3Bucket, Config.Upload.S3Prefix),
		})
	default:
		if doctorOffline {
			results = append(results, checkResult{name: "upload", ok: true, detail: Config.Upload.Endpoint + " (not contacted)"})
		} else {
			results = append(results, checkEndpoint(ctx, Config.Upload.Endpoint))
		}
	}
	return results
}

func checkBaseDir(dir string) checkResult {
	res := checkResult{name: "base dir", detail: dir}
	f, err := os.CreateTemp(dir, ".icap-doctor-*")
	if err != nil {
		res.detail = fmt.Sprintf("%s is not writable: %v", dir, err)
		return res
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	res.ok = true
	return res
}

func checkFFmpeg(opts integration.FFmpegOptions) []checkResult {
	if FFmpegChecker == nil {
		return []checkResult{{name: "ffmpeg", detail: "checker not initialized"}}
	}

	version, err := FFmpegChecker.DetectVersion()
	if err != nil {
		return []checkResult{{name: "ffmpeg", detail: fmt.Sprintf("%s not usable: %v", opts.Binary, err)}}
	}
	results := []checkResult{{name: "ffmpeg", ok: true, detail: version.String()}}
	if err := FFmpegChecker.CheckMinimumVersion(integration.MinimumFFmpegVersion); err != nil {
		results[0] = checkResult{name: "ffmpeg", detail: err.Error()}
	}

	for _, enc := range integration.RequiredEncoders(opts) {
		has, err := FFmpegChecker.HasEncoder(enc)
		switch {
		case err != nil:
			results = append(results, checkResult{name: "encoder " + enc, detail: err.Error()})
		case !has:
			results = append(results, checkResult{name: "encoder " + enc, detail: "not available in this ffmpeg build"})
		default:
			results = append(results, checkResult{name: "encoder " + enc, ok: true, detail: "available"})
		}
	}
	return results
}

// checkEndpoint treats any HTTP response as reachable; only transport
// failures fail the check.
func checkEndpoint(ctx context.Context, endpoint string) checkResult {
	res := checkResult{name: "upload", detail: endpoint}
	ctx, cancel := context.WithTimeout(ctx, endpointCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		res.detail = fmt.Sprintf("%s: %v", endpoint, err)
		return res
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		res.detail = fmt.Sprintf("%s unreachable: %v", endpoint, err)
		return res
	}
	_ = resp.Body.Close()
	res.ok = true
	res.detail = fmt.Sprintf("%s (HTTP %d)", endpoint, resp.StatusCode)
	return res
}

func printCheckResults(w io.Writer, results []checkResult) int {
	failed := 0
	for _, r := range results {
		mark := successStyle.Render("ok  ")
		if !r.ok {
			mark = errorStyle.Render("FAIL")
			failed++
		}
		fmt.Fprintf(w, "  [%s] %-20s %s\n", mark, r.name, r.detail)
	}
	return failed
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Do not contact the upload endpoint")
	rootCmd.AddCommand(doctorCmd)
}
