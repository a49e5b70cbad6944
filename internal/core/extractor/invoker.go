package extractor

import (
	"context"
	"errors"

	"cliprelay/internal/shared/logger"
	"cliprelay/internal/shared/types"
	"cliprelay/proxypool/model"
)

// ProxySelector is the slice of the proxy pool the invoker consumes:
// pick an endpoint, report how it went. *proxypool.Pool satisfies it.
type ProxySelector interface {
	Next() *model.Endpoint
	ReportSuccess(key string)
	ReportFailure(key string, cause error)
}

// CookieSource yields the on-disk cookie jar path when one is
// configured and usable.
type CookieSource interface {
	Path() (string, bool)
}

// Invoker runs the extraction tool against a video URL, walking the
// impersonation strategy ladder until one profile yields metadata or a
// terminal condition ends the attempt.
type Invoker struct {
	cfg        types.ExtractorConf
	bindMeta   bool
	bindStream bool

	tool       *Tool
	runner     Runner
	strategies []Strategy
	pool       ProxySelector
	cookies    CookieSource
}

// NewInvoker wires the invoker from config. The pool binding toggles
// come from the [pool] section: bind_metadata routes metadata calls
// through the pool, bind_download routes the byte stream.
func NewInvoker(cfg types.ExtractorConf, poolCfg types.PoolConf, pool ProxySelector, cookies CookieSource) *Invoker {
	return &Invoker{
		cfg:        cfg,
		bindMeta:   poolCfg.BindMetadata,
		bindStream: poolCfg.BindDownload,
		tool:       NewTool(cfg),
		runner:     newExecRunner(cfg.Timeout()),
		strategies: DefaultStrategies(),
		pool:       pool,
		cookies:    cookies,
	}
}

// metadataArgs are the flags common to every metadata invocation.
func metadataArgs() []string {
	return []string{
		"--dump-single-json",
		"--no-warnings",
		"--no-check-certificates",
		"--geo-bypass",
	}
}

// Extract fetches video metadata for a canonical watch URL. Strategies
// run in ladder order; each gets a fresh proxy from the pool when
// metadata binding is on. Terminal kinds abort the ladder because they
// indict the video or the caller's standing, not the strategy.
func (v *Invoker) Extract(ctx context.Context, url string) (*VideoInfo, error) {
	toolPath, err := v.tool.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	l := logger.WithComponent("Extractor")
	l.Info().Str("url", url).Msg("Extraction started.")

	var lastErr error
	for _, st := range v.strategies {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		args := metadataArgs()
		args = append(args, st.Args...)
		if path, ok := v.cookiePath(); ok {
			args = append(args, "--cookies", path)
		}
		var ep *model.Endpoint
		if v.bindMeta && v.pool != nil {
			if ep = v.pool.Next(); ep != nil {
				args = append(args, "--proxy", ep.URL())
			}
		}
		args = append(args, url)

		stdout, stderr, runErr := v.runner.Run(ctx, toolPath, args)
		if runErr == nil {
			info, perr := ParseInfo(stdout)
			if perr == nil {
				v.reportProxy(ep, nil)
				l.Info().Str("strategy", st.Name).Str("video", info.ID).Msg("Extraction succeeded.")
				return info, nil
			}
			// Exit zero with unusable output usually means an
			// interstitial page came back instead of the payload.
			var xe *Error
			if errors.As(perr, &xe) {
				xe.Strategy = st.Name
			}
			v.reportProxy(ep, perr)
			l.Warn().Str("strategy", st.Name).Err(perr).Msg("Strategy produced unusable output.")
			lastErr = perr
			continue
		}

		kind := classifyRun(runErr, string(stderr))
		xerr := &Error{Kind: kind, Strategy: st.Name, Detail: stderrTail(stderr)}
		if xerr.Detail == "" {
			xerr.Detail = runErr.Error()
		}
		v.reportProxy(ep, xerr)
		l.Warn().
			Str("strategy", st.Name).
			Str("kind", kind.String()).
			Str("detail", xerr.Detail).
			Msg("Strategy failed.")

		if kind.Terminal() {
			return nil, xerr
		}
		lastErr = xerr
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Error{Kind: KindAllFailed, Detail: "no strategy produced a result"}
}

func (v *Invoker) cookiePath() (string, bool) {
	if v.cookies == nil {
		return "", false
	}
	return v.cookies.Path()
}

func (v *Invoker) reportProxy(ep *model.Endpoint, cause error) {
	if ep == nil || v.pool == nil {
		return
	}
	if cause == nil {
		v.pool.ReportSuccess(ep.Key())
		return
	}
	v.pool.ReportFailure(ep.Key(), cause)
}
