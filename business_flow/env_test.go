package businessflow_test

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/amirphl/signage-publisher/app/services"
	businessflow "github.com/amirphl/signage-publisher/business_flow"
	"github.com/amirphl/signage-publisher/models"
	"github.com/amirphl/signage-publisher/repository"
	testingutil "github.com/amirphl/signage-publisher/testing"
	"github.com/stretchr/testify/require"
)

// flowEnv wires every flow against a fresh sqlite database, local storage and the
// in-memory signage platform.
type flowEnv struct {
	ctx        context.Context
	db         *testingutil.TestDB
	fixtures   *testingutil.TestFixtures
	storage    *services.LocalStorage
	signage    *services.MockSignageClient
	transcoder *services.MockTranscoder

	assetRepo     repository.AdAssetRepository
	jobRepo       repository.UploadJobRepository
	queueRepo     repository.PublishQueueRepository
	traceRepo     repository.PublishTraceRepository
	locationRepo  repository.LocationRepository
	screenRepo    repository.ScreenRepository
	placementRepo repository.PlacementRepository

	readiness businessflow.ReadinessFlow
	upload    businessflow.UploadFlow
	publish   businessflow.PublishFlow
	seeder    businessflow.ContentGuaranteeFlow
	health    businessflow.PlaybackHealthFlow
	queue     businessflow.PublishQueueFlow
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()
	testDB, err := testingutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = testDB.Cleanup() })

	logger := log.New(io.Discard, "", 0)
	e := &flowEnv{
		ctx:        testingutil.CreateTestContext(),
		db:         testDB,
		fixtures:   testingutil.NewTestFixtures(testDB),
		storage:    services.NewLocalStorage(t.TempDir()),
		signage:    services.NewMockSignageClient(),
		transcoder: services.NewMockTranscoder(),

		assetRepo:     repository.NewAdAssetRepository(testDB.DB),
		jobRepo:       repository.NewUploadJobRepository(testDB.DB),
		queueRepo:     repository.NewPublishQueueRepository(testDB.DB),
		traceRepo:     repository.NewPublishTraceRepository(testDB.DB),
		locationRepo:  repository.NewLocationRepository(testDB.DB),
		screenRepo:    repository.NewScreenRepository(testDB.DB),
		placementRepo: repository.NewPlacementRepository(testDB.DB),
	}

	publishCfg := testingutil.FastPublishConfig()
	e.readiness = businessflow.NewReadinessFlow(e.assetRepo, e.storage, e.transcoder, testingutil.TestTranscoderConfig(), testDB.DB, logger)
	e.upload = businessflow.NewUploadFlow(e.jobRepo, e.assetRepo, e.readiness, e.signage, e.storage, testingutil.FastUploadConfig(), logger)
	e.publish = businessflow.NewPublishFlow(e.assetRepo, e.screenRepo, e.locationRepo, e.placementRepo, e.traceRepo, e.readiness, e.signage, publishCfg, logger)
	e.seeder = businessflow.NewContentGuaranteeFlow(e.signage, publishCfg, logger)
	e.health = businessflow.NewPlaybackHealthFlow(e.screenRepo, e.placementRepo, e.assetRepo, e.readiness, e.publish, e.seeder, e.signage, publishCfg, logger)
	e.queue = businessflow.NewPublishQueueFlow(e.queueRepo, e.assetRepo, e.readiness, e.upload, e.publish, testingutil.TestQueueConfig(), testDB.DB, logger)
	return e
}

// readyAsset creates a READY_FOR_YODECK mp4 asset for the advertiser.
func (e *flowEnv) readyAsset(t *testing.T, advertiserID uint) *models.AdAsset {
	t.Helper()
	asset, err := e.fixtures.CreateAsset(e.storage, advertiserID, models.ReadinessReadyForYodeck, testingutil.MP4Bytes(4096))
	require.NoError(t, err)
	return asset
}

// uploadedAsset creates a READY asset whose media already exists on the platform.
func (e *flowEnv) uploadedAsset(t *testing.T, advertiserID uint) *models.AdAsset {
	t.Helper()
	asset := e.readyAsset(t, advertiserID)
	mediaID := e.signage.SeedMedia(services.Media{
		Name:   "adv-ad.mp4",
		Status: "finished",
		File:   &services.MediaFile{Size: asset.SizeBytes, Format: "mp4"},
	})
	require.NoError(t, e.fixtures.MarkUploaded(asset, mediaID))
	return asset
}

// screenWithPlacement creates a location, a screen registered on the platform showing
// source, and a live placement of the advertiser on it.
func (e *flowEnv) screenWithPlacement(t *testing.T, advertiserID uint, yodeckScreenID int64, source services.ScreenSource) (*models.Location, *models.Screen) {
	t.Helper()
	location, err := e.fixtures.CreateLocation("Lobby", nil)
	require.NoError(t, err)
	screen, err := e.fixtures.CreateScreen(location.ID, yodeckScreenID)
	require.NoError(t, err)
	_, err = e.fixtures.CreatePlacement(advertiserID, screen.ID)
	require.NoError(t, err)
	e.signage.SeedScreen(yodeckScreenID, screen.Name, source)
	return location, screen
}

func (e *flowEnv) reloadAsset(t *testing.T, id uint) *models.AdAsset {
	t.Helper()
	asset, err := e.assetRepo.ByID(e.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, asset)
	return asset
}

func requireCode(t *testing.T, err error, code string) *businessflow.BusinessError {
	t.Helper()
	require.Error(t, err)
	var be *businessflow.BusinessError
	require.ErrorAs(t, err, &be)
	require.Equal(t, code, be.Code)
	return be
}
