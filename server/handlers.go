package server

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/teranos/vidscope/catalog"
	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/storage"
	"github.com/teranos/vidscope/version"
	"github.com/teranos/vidscope/video"
)

// HandleAvailable lists source videos in the original bucket
func (s *Server) HandleAvailable(w http.ResponseWriter, r *http.Request) {
	objects, err := s.Store.List(r.Context(), storage.Original)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	names := make([]string, 0, len(objects))
	for _, o := range objects {
		names = append(names, o.Key)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"videos": names, "objects": objects})
}

// HandleUpload stores a multipart "file" field in the original bucket
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 16 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds "+strconv.FormatInt(limit, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if err := video.ValidateName(name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !s.allowedExtension(name) {
		writeError(w, http.StatusBadRequest, "file type not allowed, expected one of: "+strings.Join(s.extensions(), ", "))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	path, err := s.Store.UploadBytes(r.Context(), storage.Original, name, data, storage.ContentTypeFor(name))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.logger.Infow("Video uploaded", "video", name, "size", len(data))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"video_name": name, "path": path, "size": len(data)})
}

func (s *Server) extensions() []string {
	if len(s.cfg.AllowedExtensions) == 0 {
		return []string{"mp4", "avi", "mov"}
	}
	return s.cfg.AllowedExtensions
}

func (s *Server) allowedExtension(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, allowed := range s.extensions() {
		if ext == strings.TrimPrefix(strings.ToLower(allowed), ".") {
			return true
		}
	}
	return false
}

// HandleProcess starts (or reports) processing. A new or running job
// answers 202, a finished one 200.
func (s *Server) HandleProcess(w http.ResponseWriter, r *http.Request) {
	st, err := s.Service.Start(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	status := http.StatusAccepted
	if st.Status.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, st)
}

// HandleStatus reports tracker state
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := video.ValidateName(name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Service.Status(r.Context(), name))
}

// HandleStream serves the processed video when one is recorded, otherwise
// the original
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := video.ValidateName(name); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	bucket, key, contentType := storage.Original, name, storage.ContentTypeFor(name)
	rec, err := s.Catalog.Get(r.Context(), name)
	switch {
	case err == nil && rec.ProcessedVideoPath != nil:
		bucket, key, contentType = storage.Processed, video.ProcessedKey(name), storage.ContentTypeMP4
	case err != nil && !errors.IsNotFoundError(err):
		s.writeFailure(w, r, err)
		return
	}
	s.serveObject(w, r, bucket, key, contentType)
}

// HandleHeatmap returns the heatmap location, or queues its generation (202)
func (s *Server) HandleHeatmap(w http.ResponseWriter, r *http.Request) {
	hs, err := s.Service.Heatmap(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !hs.Ready {
		writeJSON(w, http.StatusAccepted, hs)
		return
	}
	writeJSON(w, http.StatusOK, hs)
}

// HandleHeatmapDownload streams the heatmap PNG
func (s *Server) HandleHeatmapDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := video.ValidateName(name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.serveObject(w, r, storage.Heatmaps, video.HeatmapKey(name), storage.ContentTypePNG)
}

func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, bucket storage.Bucket, key, contentType string) {
	rc, err := s.Store.Open(r.Context(), bucket, key)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debugw("Stream interrupted", "bucket", bucket, "key", key, "error", err)
	}
}

// HandleMetadata returns the stored record
func (s *Server) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Catalog.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleSearch finds a label across all videos. ?fps= overrides the
// timestamp rate.
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	label := strings.TrimSpace(r.PathValue("label"))
	if label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	results, err := s.Catalog.SearchLabel(r.Context(), label, fpsParam(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if results == nil {
		results = []catalog.LabelMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"label":          label,
		"total_videos":   len(results),
		"search_results": results,
	})
}

// HandleObjects summarizes a video's detections by label
func (s *Server) HandleObjects(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	objects, err := s.Catalog.ObjectSummary(r.Context(), name, fpsParam(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if objects == nil {
		objects = []catalog.ObjectStats{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"video_name":    name,
		"total_objects": len(objects),
		"objects":       objects,
	})
}

func fpsParam(r *http.Request) float64 {
	fps, err := strconv.ParseFloat(r.URL.Query().Get("fps"), 64)
	if err != nil || fps <= 0 {
		return catalog.DefaultFPS
	}
	return fps
}

// HandleJobs lists recent jobs, optionally filtered by ?status=
func (s *Server) HandleJobs(w http.ResponseWriter, r *http.Request) {
	var filter *async.JobStatus
	if v := r.URL.Query().Get("status"); v != "" {
		if !async.IsValidStatus(v) {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(v))
			return
		}
		st := async.JobStatus(v)
		filter = &st
	}
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}

	jobs, err := s.Service.Queue.ListJobs(filter, limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// HandleHealth serves health check endpoint with version info
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.Get()
	health := map[string]interface{}{
		"status":     "ok",
		"state":      s.State().String(),
		"version":    info.Version,
		"commit":     info.CommitHash,
		"build_time": info.BuildTime,
		"clients":    int(s.clients.Load()),
	}
	if s.Pool != nil {
		health["workers"] = s.Pool.Workers()
		health["jobs_processed"] = s.Pool.JobsProcessed()
	}
	if stats, err := s.Service.Queue.GetStats(); err == nil {
		health["queue"] = stats
	} else {
		s.logger.Warnw("Failed to read queue stats", "error", err)
	}
	writeJSON(w, http.StatusOK, health)
}
