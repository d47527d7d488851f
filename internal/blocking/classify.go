package blocking

import (
	"strconv"

	"skrapp/internal/model"
)

// Thresholds holds the classification cutoffs.
type Thresholds struct {
	Rate429        float64
	Rate403        float64
	DuplicateRatio float64
}

// Analysis is the classifier output stored on the job.
type Analysis struct {
	SiteStatus      string            `json:"-"`
	SignalsDetected []string          `json:"signals_detected"`
	StatusSummary   StatusCodeSummary `json:"status_code_summary"`
	CaptchaHits     int               `json:"captcha_hits"`
	WAFHits         int               `json:"waf_hits"`
	LoginRedirects  int               `json:"login_redirects"`
	DuplicateRatio  float64           `json:"duplicate_ratio"`
	SampleURLs      []string          `json:"sample_urls"`
	SignatureHits   []string          `json:"signature_hits"`
}

type StatusCodeSummary struct {
	Total  int `json:"total"`
	OK2xx  int `json:"2xx"`
	Err4xx int `json:"4xx"`
	Err5xx int `json:"5xx"`
}

// Classify maps crawl evidence to a site status. The checks run in fixed
// priority order; the first match wins.
func Classify(ev model.BlockingEvidence, th Thresholds) Analysis {
	a := Analysis{
		SiteStatus:      model.SiteUnknown,
		CaptchaHits:     ev.CaptchaHits,
		WAFHits:         ev.WAFHits,
		LoginRedirects:  ev.LoginRedirects,
		DuplicateRatio:  round3(ev.DuplicateRatio),
		SampleURLs:      ev.SampleURLs,
		SignatureHits:   ev.SignatureHits,
		SignalsDetected: []string{},
	}

	if ev.TotalResponses == 0 {
		return a
	}

	a.StatusSummary = summarize(ev.StatusCodes, ev.TotalResponses)

	total := float64(ev.TotalResponses)
	rate429 := float64(codeCount(ev.StatusCodes, 429)) / total
	rate403 := float64(codeCount(ev.StatusCodes, 403)) / total

	switch {
	case ev.CaptchaHits+ev.WAFHits > 0:
		a.SiteStatus = model.SiteBlocked
		a.SignalsDetected = append(a.SignalsDetected, model.SignalCaptcha)
	case float64(ev.LoginRedirects) > total*0.5:
		a.SiteStatus = model.SiteLoginRequired
		a.SignalsDetected = append(a.SignalsDetected, model.SignalLoginRedirect)
	case rate429 >= th.Rate429:
		a.SiteStatus = model.SiteThrottled
		a.SignalsDetected = append(a.SignalsDetected, model.SignalExcessive429)
	case rate403 >= th.Rate403:
		a.SiteStatus = model.SiteBlocked
		a.SignalsDetected = append(a.SignalsDetected, model.SignalExcessive403)
	case ev.DuplicateRatio >= th.DuplicateRatio:
		a.SiteStatus = model.SiteBlocked
		a.SignalsDetected = append(a.SignalsDetected, model.SignalDuplicateContent)
	default:
		a.SiteStatus = model.SiteNormal
	}

	return a
}

// ShouldFallback reports whether the site status warrants a JS retry.
func ShouldFallback(siteStatus string) bool {
	return siteStatus == model.SiteBlocked || siteStatus == model.SiteThrottled
}

func codeCount(codes map[string]int, code int) int {
	return codes[strconv.Itoa(code)]
}

func summarize(codes map[string]int, total int) StatusCodeSummary {
	s := StatusCodeSummary{Total: total}
	for k, n := range codes {
		code, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		switch {
		case code >= 200 && code < 300:
			s.OK2xx += n
		case code >= 400 && code < 500:
			s.Err4xx += n
		case code >= 500 && code < 600:
			s.Err5xx += n
		}
	}
	return s
}
