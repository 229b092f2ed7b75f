package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/tariff"
)

type garbageRequest struct {
	TenantID   string `json:"tenantId" validate:"required_without=PropertyID"`
	PropertyID string `json:"propertyId"`
}

type importRateRequest struct {
	Path string `json:"path" validate:"required"`
}

const maxTariffUpload = 20 << 20

// @Summary Back-fill monthly garbage fees for a tenant or property
// @Tags garbage-fees
// @Accept json
// @Produce json
// @Success 200 {object} billing.BackfillResult
// @Router /garbage-fees/auto-generate [post]
func (s *Server) autoGenerateGarbage(w http.ResponseWriter, r *http.Request) {
	var req garbageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.TenantID != "" {
		res, err := s.garbage.AutoGenerate(r.Context(), req.TenantID, s.now())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	prop, err := s.store.GetProperty(r.Context(), req.PropertyID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if prop == nil {
		s.writeServiceError(w, r, &billing.NotFoundError{Entity: "property", ID: req.PropertyID})
		return
	}
	results, err := s.garbage.AutoGenerateProperty(r.Context(), req.PropertyID, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	generated := 0
	for _, res := range results {
		generated += res.Generated
	}
	writeJSON(w, http.StatusOK, map[string]any{"generated": generated, "tenants": results})
}

// importWaterRate accepts either a JSON body naming a tariff PDF already in
// the tariff directory or a multipart upload in the "file" field.
func (s *Server) importWaterRate(w http.ResponseWriter, r *http.Request) {
	path, err := s.tariffPath(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	prop, t, err := s.importer.Import(r.Context(), r.PathValue("id"), path)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"property": prop, "tariff": t})
}

func (s *Server) tariffPath(w http.ResponseWriter, r *http.Request) (string, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var req importRateRequest
		if err := decodeJSON(r, &req); err != nil {
			return "", err
		}
		return tariff.ResolvePath(s.tariffDir, req.Path)
	}
	if s.tariffDir == "" {
		return "", &billing.ValidationError{Field: "file", Msg: "uploads are disabled"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxTariffUpload)
	f, _, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", &billing.ValidationError{Field: "file", Msg: "exceeds upload limit"}
		}
		return "", &billing.ValidationError{Field: "file", Msg: err.Error()}
	}
	defer f.Close()
	return tariff.SaveUpload(s.tariffDir, f)
}

func (s *Server) expireLeases(w http.ResponseWriter, r *http.Request) {
	res, err := s.leases.ExpireLeases(r.Context(), s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
