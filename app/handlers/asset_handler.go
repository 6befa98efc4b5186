package handlers

import (
	"strconv"
	"strings"

	"github.com/amirphl/signage-publisher/app/dto"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/models"
	"github.com/gofiber/fiber/v3"
)

// AssetHandlerInterface defines the contract for asset readiness and upload handlers
type AssetHandlerInterface interface {
	Register(c fiber.Ctx) error
	Get(c fiber.Ctx) error
	Validate(c fiber.Ctx) error
	Normalize(c fiber.Ctx) error
	Upload(c fiber.Ctx) error
	GetUploadJob(c fiber.Ctx) error
	CanonicalAsset(c fiber.Ctx) error
}

// AssetHandler handles asset readiness and upload requests
type AssetHandler struct {
	baseHandler
	readiness businessflow.ReadinessFlow
	upload    businessflow.UploadFlow
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(readiness businessflow.ReadinessFlow, upload businessflow.UploadFlow) *AssetHandler {
	return &AssetHandler{
		baseHandler: newBaseHandler(),
		readiness:   readiness,
		upload:      upload,
	}
}

// Register stores a raw upload as a new PENDING asset.
// @Router /api/v1/assets [post]
func (h *AssetHandler) Register(c fiber.Ctx) error {
	advertiserID, _ := strconv.ParseUint(strings.TrimSpace(c.FormValue("advertiser_id")), 10, 64)
	form := dto.RegisterAssetForm{AdvertiserID: uint(advertiserID)}
	if ok, resp := h.validate(c, &form); !ok {
		return resp
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "file is required", businessflow.CodeInvalidRequest, "", nil)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Failed to read uploaded file", businessflow.CodeInvalidRequest, "", nil)
	}
	defer file.Close()

	ctx, cancel := createRequestContext(c, "/api/v1/assets", longRequestTimeout)
	defer cancel()

	asset, err := h.readiness.RegisterAsset(ctx, businessflow.RegisterAssetRequest{
		AdvertiserID:     form.AdvertiserID,
		OriginalFilename: fileHeader.Filename,
		Body:             file,
	})
	if err != nil {
		return h.flowError(c, err, "Failed to register asset")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Asset registered", toAssetResponse(asset))
}

// Get returns one asset with its readiness state.
// @Router /api/v1/assets/{id} [get]
func (h *AssetHandler) Get(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid asset id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/assets/:id", defaultRequestTimeout)
	defer cancel()

	asset, err := h.readiness.GetAsset(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to load asset")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Asset retrieved", toAssetResponse(asset))
}

// Validate runs container and codec checks on a PENDING asset.
// @Router /api/v1/assets/{id}/validate [post]
func (h *AssetHandler) Validate(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid asset id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/assets/:id/validate", longRequestTimeout)
	defer cancel()

	asset, err := h.readiness.ValidateAsset(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to validate asset")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Asset validated", toAssetResponse(asset))
}

// Normalize transcodes an asset that needs normalization.
// @Router /api/v1/assets/{id}/normalize [post]
func (h *AssetHandler) Normalize(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid asset id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/assets/:id/normalize", longRequestTimeout)
	defer cancel()

	asset, err := h.readiness.NormalizeAsset(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to normalize asset")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Asset normalized", toAssetResponse(asset))
}

// Upload pushes a ready asset to the signage platform and waits for the outcome.
// @Router /api/v1/assets/{id}/upload [post]
func (h *AssetHandler) Upload(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid asset id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/assets/:id/upload", longRequestTimeout)
	defer cancel()

	result, err := h.upload.UploadAsset(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to upload asset")
	}
	if !result.OK {
		status := statusForError(&businessflow.BusinessError{Code: result.ErrorCode, Category: result.Category})
		return h.ErrorResponse(c, status, result.ErrorMessage, result.ErrorCode, result.NextAction, result)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Asset uploaded", result)
}

// GetUploadJob returns the persisted forensic record of one upload.
// @Router /api/v1/uploads/{correlation_id} [get]
func (h *AssetHandler) GetUploadJob(c fiber.Ctx) error {
	correlationID := strings.TrimSpace(c.Params("correlation_id"))
	if correlationID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "correlation_id is required", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/uploads/:correlation_id", defaultRequestTimeout)
	defer cancel()

	job, err := h.upload.GetJob(ctx, correlationID)
	if err != nil {
		return h.flowError(c, err, "Failed to load upload job")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Upload job retrieved", job)
}

// CanonicalAsset returns the advertiser's current canonical asset.
// @Router /api/v1/advertisers/{id}/canonical-asset [get]
func (h *AssetHandler) CanonicalAsset(c fiber.Ctx) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid advertiser id", businessflow.CodeInvalidRequest, "", nil)
	}
	ctx, cancel := createRequestContext(c, "/api/v1/advertisers/:id/canonical-asset", defaultRequestTimeout)
	defer cancel()

	asset, err := h.readiness.CanonicalAsset(ctx, id)
	if err != nil {
		return h.flowError(c, err, "Failed to load canonical asset")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Canonical asset retrieved", toAssetResponse(asset))
}

func toAssetResponse(a *models.AdAsset) dto.AssetResponse {
	resp := dto.AssetResponse{
		ID:                a.ID,
		UUID:              a.UUID.String(),
		AdvertiserID:      a.AdvertiserID,
		OriginalFilename:  a.OriginalFilename,
		MimeType:          a.MimeType,
		SizeBytes:         a.SizeBytes,
		ReadinessStatus:   a.ReadinessStatus,
		RejectionReason:   a.RejectionReason,
		ValidationWarning: a.ValidationWarning,
		Codec:             a.Codec,
		PixelFormat:       a.PixelFormat,
		DurationSeconds:   a.DurationSeconds,
		ExternalMediaID:   a.YodeckMediaID,
		UploadedAt:        a.UploadedAt,
		IsSuperseded:      a.IsSuperseded,
		PublishStatus:     a.PublishStatus,
		PublishError:      a.PublishError,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
	if !a.IsReady() {
		resp.NextAction = businessflow.NextActionForReadiness(a.ReadinessStatus)
	}
	return resp
}
