package feed

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cyp0633/libhorizon/export"
	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/resolve"
	"github.com/cyp0633/libhorizon/storage"
)

// handleGet renders a feed. The range defaults to [now, now+days) and can be
// set with "from"/"to" (RFC 3339) or "days". Cancelled instances are included
// so clients can drop them; "cancelled=false" leaves them out.
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	path := StripPrefix(req.URL.Path, r.baseURI)
	feedPath, err := ParsePath(path)
	if err != nil {
		r.log.Info("invalid feed path", logx.String("path", path), logx.Err(err))
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	from, to, err := r.parseRange(req.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	includeCancelled := req.URL.Query().Get("cancelled") != "false"
	instances, err := resolve.List(req.Context(), r.store, storage.InstanceFilter{
		OrganizationID:       feedPath.OrganizationID,
		BaseRecurringEventID: feedPath.SeriesID,
		From:                 from,
		To:                   to,
		IncludeCancelled:     includeCancelled,
	}, r.log)
	if err != nil {
		r.log.Error("failed to load feed",
			logx.String("organization_id", feedPath.OrganizationID),
			logx.String("series_id", feedPath.SeriesID),
			logx.Err(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if !includeCancelled {
		// Exceptions can cancel rows that are not cancelled in storage.
		kept := instances[:0]
		for _, inst := range instances {
			if !inst.IsCancelled {
				kept = append(kept, inst)
			}
		}
		instances = kept
	}

	var buf bytes.Buffer
	switch feedPath.Format {
	case FormatXCal:
		err = export.WriteXCal(&buf, instances, r.export...)
	default:
		err = export.WriteICS(&buf, instances, r.export...)
	}
	if err != nil {
		r.log.Error("failed to render feed", logx.String("feed", feedPath.String()), logx.Err(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set(HeaderContentType, feedPath.Format.ContentType())
	w.Header().Set(HeaderCacheControl, "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if req.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
	}
}

func (r *Router) parseRange(q url.Values) (time.Time, time.Time, error) {
	from := r.now().UTC()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from")
		}
		from = t.UTC()
	}

	days := r.days
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxDays {
			return time.Time{}, time.Time{}, errors.New("invalid days")
		}
		days = n
	}
	to := from.AddDate(0, 0, days)

	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil || !t.After(from) {
			return time.Time{}, time.Time{}, errors.New("invalid to")
		}
		to = t.UTC()
	}
	if to.Sub(from) > maxDays*24*time.Hour {
		return time.Time{}, time.Time{}, errors.New("range too large")
	}
	return from, to, nil
}
