package registry

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/satchel/pkg/auth"
	"github.com/platinummonkey/satchel/pkg/httputil"
	"github.com/platinummonkey/satchel/pkg/middleware"
	"github.com/platinummonkey/satchel/pkg/observability"
)

// putPackage handles PUT /{package} (npm publish).
// Ordering is fail-closed: authorize, then validate, then mutate. An
// unauthorized caller never sees validation errors.
func (s *Server) putPackage(w http.ResponseWriter, r *http.Request) {
	name, err := httputil.DecodedPathVar(r, "package")
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if err := s.pkgAuthz.Authorize(r, auth.OpWrite, auth.EntityPackage, name); err != nil {
		middleware.Deny(w, err)
		s.countPublish("forbidden")
		return
	}

	var req PublishRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		s.countPublish("invalid")
		return
	}

	if req.Name != name {
		httputil.WriteValidationError(w, "Package name does not match")
		s.countPublish("invalid")
		return
	}

	tag := firstKey(req.DistTags)
	if tag == "" {
		httputil.WriteValidationError(w, "No tag")
		s.countPublish("invalid")
		return
	}

	version := firstRawKey(req.Versions)
	if version == "" {
		httputil.WriteValidationError(w, "No version to upload")
		s.countPublish("invalid")
		return
	}
	if !isSemver(version) {
		httputil.WriteValidationError(w, "Version is not in semver format")
		s.countPublish("invalid")
		return
	}

	ctx := r.Context()

	if _, err := s.packages.GetRelease(ctx, name, version); err == nil {
		httputil.WriteConflict(w, "Version already exists")
		s.countPublish("conflict")
		return
	} else if !errors.Is(err, ErrNotFound) {
		httputil.WriteInternalError(w, err)
		s.countPublish("error")
		return
	}

	expectedAttachment := fmt.Sprintf("%s-%s.tgz", name, version)

	attachmentName := firstAttachmentKey(req.Attachments)
	if attachmentName == "" {
		httputil.WriteValidationError(w, "No attachment")
		s.countPublish("invalid")
		return
	}
	if attachmentName != expectedAttachment {
		httputil.WriteValidationError(w, "Attachment name does not match")
		s.countPublish("invalid")
		return
	}

	var probe manifestProbe
	if err := json.Unmarshal(req.Versions[version], &probe); err != nil {
		httputil.WriteValidationError(w, "Invalid version manifest")
		s.countPublish("invalid")
		return
	}
	if !strings.HasSuffix(probe.Dist.Tarball, fmt.Sprintf("%s/-/%s", name, expectedAttachment)) {
		httputil.WriteValidationError(w, "Attachment name does not match")
		s.countPublish("invalid")
		return
	}

	attachment := req.Attachments[attachmentName]
	if attachment.Data == "" {
		httputil.WriteValidationError(w, "No attachment")
		s.countPublish("invalid")
		return
	}
	data, err := base64.StdEncoding.DecodeString(attachment.Data)
	if err != nil {
		httputil.WriteValidationError(w, "Invalid attachment data")
		s.countPublish("invalid")
		return
	}

	now := time.Now().UnixMilli()
	release := &Release{
		Package:   name,
		Version:   version,
		Tag:       tag,
		Manifest:  req.Versions[version],
		CreatedAt: now,
	}

	// The three effects are issued concurrently and are not transactionally
	// coupled: a partial failure can leave metadata, release and blob out of
	// sync. The package+version uniqueness constraint is the sole guard
	// against a duplicate-publish race.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.packages.UpsertPackage(gctx, name, req.DistTags, now)
	})
	g.Go(func() error {
		return s.packages.CreateRelease(gctx, release)
	})
	g.Go(func() error {
		return s.blobs.Put(gctx, attachmentName, data, map[string]string{
			"package": name,
			"version": version,
		})
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrVersionExists) {
			httputil.WriteConflict(w, "Version already exists")
			s.countPublish("conflict")
			return
		}
		observability.FromContext(ctx).WithError(err).Error("publish failed")
		httputil.WriteInternalError(w, err)
		s.countPublish("error")
		return
	}

	s.countPublish("ok")
	httputil.WriteOK(w)
}

// getPackage handles GET /{package}. Packages with no local record are
// proxied to the fallback registry without authentication; locally known
// packages require package:read on the name.
func (s *Server) getPackage(w http.ResponseWriter, r *http.Request) {
	name, err := httputil.DecodedPathVar(r, "package")
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	pkg, releases, err := s.packages.GetPackage(r.Context(), name)
	if errors.Is(err, ErrNotFound) {
		s.proxyFallback(w, r, name)
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if err := s.pkgAuthz.Authorize(r, auth.OpRead, auth.EntityPackage, name); err != nil {
		middleware.Deny(w, err)
		return
	}

	versions := make(map[string]json.RawMessage, len(releases))
	for _, release := range releases {
		versions[release.Version] = release.Manifest
	}

	httputil.WriteSuccess(w, Metadata{
		ID:       pkg.Name,
		Name:     pkg.Name,
		DistTags: pkg.DistTags,
		Versions: versions,
	})
}

// getTarball handles GET /{package}/-/{tarball} and its scoped variant
// GET /{scope}/{package}/-/{tarballScope}/{tarball}
func (s *Server) getTarball(w http.ResponseWriter, r *http.Request) {
	vars := httputil.GetPathVars(r)

	fullName, err := joinScoped(vars["scope"], vars["package"])
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	tarballName, err := joinScoped(vars["tarballScope"], vars["tarball"])
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	if err := s.pkgAuthz.Authorize(r, auth.OpRead, auth.EntityPackage, fullName); err != nil {
		middleware.Deny(w, err)
		return
	}

	data, metadata, err := s.blobs.Get(r.Context(), tarballName)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "Package tarball not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	// Blob metadata must name the owning package; a missing or mismatched
	// record indicates a storage-layer bug, not a caller error.
	if len(metadata) == 0 {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Invalid tarball metadata")
		return
	}
	owner, ok := metadata["package"]
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Invalid tarball metadata")
		return
	}
	if owner != fullName {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "Incoherent tarball metadata")
		return
	}

	if s.metrics != nil {
		s.metrics.TarballDownloads.Inc()
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// proxyFallback relays GET {upstream}/{name} verbatim
func (s *Server) proxyFallback(w http.ResponseWriter, r *http.Request, name string) {
	target := *s.upstream
	target.Path = "/" + name

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("fallback registry request failed")
		httputil.WriteErrorMessage(w, http.StatusBadGateway, "fallback registry unreachable")
		return
	}
	defer resp.Body.Close()

	if s.metrics != nil {
		s.metrics.ProxiedRequestsTotal.Inc()
	}

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (s *Server) countPublish(result string) {
	if s.metrics != nil {
		s.metrics.PublishesTotal.WithLabelValues(result).Inc()
	}
}

// joinScoped reassembles a scoped name from its optional scope segment and
// base segment, percent-decoding both
func joinScoped(scope, base string) (string, error) {
	parts := make([]string, 0, 2)
	for _, raw := range []string{scope, base} {
		if raw == "" {
			continue
		}
		decoded, err := url.PathUnescape(raw)
		if err != nil {
			return "", fmt.Errorf("invalid path segment: %w", err)
		}
		parts = append(parts, decoded)
	}
	return strings.Join(parts, "/"), nil
}

// firstKey returns an arbitrary key of the map, or "". Publish payloads
// carry exactly one dist-tag, version and attachment in practice.
func firstKey(m map[string]string) string {
	for k := range m {
		return k
	}
	return ""
}

func firstRawKey(m map[string]json.RawMessage) string {
	for k := range m {
		return k
	}
	return ""
}

func firstAttachmentKey(m map[string]Attachment) string {
	for k := range m {
		return k
	}
	return ""
}
