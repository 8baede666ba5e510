package docker

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stackup/internal/core/compose"
	coredeployment "github.com/artpar/stackup/internal/core/deployment"
	"github.com/artpar/stackup/internal/core/domain"
)

// =============================================================================
// Fake Client
// =============================================================================

// fakeClient records operations and lets tests inject failures per entity.
type fakeClient struct {
	builds    []BuildSpec
	buildErrs map[string]error // keyed by image tag

	pulled     []string
	pullErr    error
	haveImages map[string]bool

	created    []ContainerSpec
	createErrs map[string]error // keyed by container name
	started    []string
	startErrs  map[string]error // keyed by container ID
	stopped    []string
	removed    []string

	waitCodes map[string]int64 // keyed by container ID
	waitErrs  map[string]error
	inspects  map[string]*ContainerInfo

	networks        []NetworkSpec
	removedNetworks []string
	volumes         []VolumeSpec
	removedVolumes  []string

	listResult []ContainerInfo
	logStream  []byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		buildErrs:  map[string]error{},
		haveImages: map[string]bool{},
		createErrs: map[string]error{},
		startErrs:  map[string]error{},
		waitCodes:  map[string]int64{},
		waitErrs:   map[string]error{},
		inspects:   map[string]*ContainerInfo{},
	}
}

func (f *fakeClient) BuildImage(ctx context.Context, spec BuildSpec, output BuildOutput) error {
	f.builds = append(f.builds, spec)
	if err, ok := f.buildErrs[spec.Tag]; ok {
		return err
	}
	if output != nil {
		output("Step 1/1 : FROM scratch")
	}
	return nil
}

func (f *fakeClient) PullImage(image string, opts PullOptions) error {
	f.pulled = append(f.pulled, image)
	return f.pullErr
}

func (f *fakeClient) ImageExists(image string) (bool, error) {
	return f.haveImages[image], nil
}

func (f *fakeClient) CreateContainer(spec ContainerSpec) (string, error) {
	if err, ok := f.createErrs[spec.Name]; ok {
		return "", err
	}
	f.created = append(f.created, spec)
	return "ctr-" + spec.Name, nil
}

func (f *fakeClient) StartContainer(containerID string) error {
	if err, ok := f.startErrs[containerID]; ok {
		return err
	}
	f.started = append(f.started, containerID)
	return nil
}

func (f *fakeClient) StopContainer(containerID string, timeout *time.Duration) error {
	f.stopped = append(f.stopped, containerID)
	return nil
}

func (f *fakeClient) RemoveContainer(containerID string, opts RemoveOptions) error {
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeClient) InspectContainer(containerID string) (*ContainerInfo, error) {
	if info, ok := f.inspects[containerID]; ok {
		return info, nil
	}
	return &ContainerInfo{
		ID:     containerID,
		Status: ContainerStatusRunning,
		State:  "running",
	}, nil
}

func (f *fakeClient) ListContainers(opts ListOptions) ([]ContainerInfo, error) {
	return f.listResult, nil
}

func (f *fakeClient) ContainerLogs(containerID string, opts LogOptions) (io.ReadCloser, error) {
	if f.logStream == nil {
		return nil, NewDockerError("ContainerLogs", "container", containerID, "not implemented", ErrContainerNotFound)
	}
	return io.NopCloser(bytes.NewReader(f.logStream)), nil
}

func (f *fakeClient) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	if err, ok := f.waitErrs[containerID]; ok {
		return 0, err
	}
	return f.waitCodes[containerID], nil
}

func (f *fakeClient) CreateNetwork(spec NetworkSpec) (string, error) {
	f.networks = append(f.networks, spec)
	return "net-" + spec.Name, nil
}

func (f *fakeClient) RemoveNetwork(networkID string) error {
	f.removedNetworks = append(f.removedNetworks, networkID)
	return nil
}

func (f *fakeClient) CreateVolume(spec VolumeSpec) (string, error) {
	f.volumes = append(f.volumes, spec)
	return spec.Name, nil
}

func (f *fakeClient) RemoveVolume(volumeName string, force bool) error {
	f.removedVolumes = append(f.removedVolumes, volumeName)
	return nil
}

func (f *fakeClient) Ping() error { return nil }
func (f *fakeClient) Close() error { return nil }

// =============================================================================
// Test Fixtures
// =============================================================================

// twoStagePlan models an install stage that must run to completion before the
// app service is started.
func twoStagePlan(deploymentID string) *coredeployment.DeployPlan {
	return &coredeployment.DeployPlan{
		DeploymentID: deploymentID,
		Project:      "feedmixer",
		Builds: []coredeployment.BuildStep{
			{
				ServiceName: "install",
				ImageTag:    "stackup_feedmixer_install:latest",
				Context:     ".",
				Target:      "install",
			},
			{
				ServiceName: "app",
				ImageTag:    "stackup_feedmixer_app:latest",
				Context:     ".",
			},
		},
		Networks: []coredeployment.NetworkPlan{
			{Name: "stackup_" + deploymentID, Driver: "bridge"},
		},
		Containers: []coredeployment.ContainerPlan{
			{
				ServiceName: "install",
				Name:        "stackup_" + deploymentID + "_install",
				Image:       "stackup_feedmixer_install:latest",
			},
			{
				ServiceName: "app",
				Name:        "stackup_" + deploymentID + "_app",
				Image:       "stackup_feedmixer_app:latest",
				User:        "nobody",
				Command:     []string{"gunicorn", "-b", ":8000", "feedmixer_wsgi"},
				Ports:       []coredeployment.PortPlan{{ContainerPort: 8000, HostPort: 8000, Protocol: "tcp"}},
				WaitFor: []compose.Dependency{
					{Service: "install", Condition: compose.ConditionCompleted},
				},
			},
		},
	}
}

func testDeployment(t *testing.T) *domain.Deployment {
	t.Helper()
	d, err := domain.NewDeployment("feedmixer", "services: {}", nil)
	require.NoError(t, err)
	return d
}

func testOrchestrator(f *fakeClient) *Orchestrator {
	return NewOrchestrator(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// =============================================================================
// Start Deployment Tests
// =============================================================================

func TestStartDeployment_TwoStagePlan(t *testing.T) {
	f := newFakeClient()
	o := testOrchestrator(f)

	dep := testDeployment(t)
	plan := twoStagePlan(dep.ID)

	containers, err := o.StartDeployment(context.Background(), dep, plan)
	require.NoError(t, err)

	// Both builds ran, in plan order
	require.Len(t, f.builds, 2)
	assert.Equal(t, "install", f.builds[0].Target)
	assert.Equal(t, "", f.builds[1].Target)

	// Both containers created and started, install first
	require.Len(t, f.created, 2)
	assert.Contains(t, f.created[0].Name, "_install")
	assert.Contains(t, f.created[1].Name, "_app")
	assert.Equal(t, "nobody", f.created[1].User)

	require.Len(t, containers, 2)
	assert.Equal(t, "install", containers[0].ServiceName)
	assert.Equal(t, "app", containers[1].ServiceName)

	// Port mappings come straight from the plan
	require.Len(t, containers[1].Ports, 1)
	assert.Equal(t, 8000, containers[1].Ports[0].HostPort)
	assert.Equal(t, 8000, containers[1].Ports[0].ContainerPort)
	assert.Equal(t, "tcp", containers[1].Ports[0].Protocol)
}

func TestStartDeployment_BuildFailureStartsNothing(t *testing.T) {
	f := newFakeClient()
	f.buildErrs["stackup_feedmixer_install:latest"] = NewDockerError(
		"BuildImage", "image", "stackup_feedmixer_install:latest", "no such stage", ErrStageNotFound)
	o := testOrchestrator(f)

	dep := testDeployment(t)
	_, err := o.StartDeployment(context.Background(), dep, twoStagePlan(dep.ID))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageNotFound)

	// A failed build leaves no containers and no network behind
	assert.Empty(t, f.created)
	assert.Empty(t, f.started)
	assert.Empty(t, f.networks)
}

func TestStartDeployment_DependencyExitNonZeroFails(t *testing.T) {
	f := newFakeClient()
	o := testOrchestrator(f)

	dep := testDeployment(t)
	plan := twoStagePlan(dep.ID)
	f.waitCodes["ctr-stackup_"+dep.ID+"_install"] = 2

	_, err := o.StartDeployment(context.Background(), dep, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 2")

	// Install was started, app was never created
	require.Len(t, f.created, 1)
	assert.Contains(t, f.created[0].Name, "_install")

	// Created container and network are cleaned up
	assert.Contains(t, f.removed, "ctr-stackup_"+dep.ID+"_install")
	assert.NotEmpty(t, f.removedNetworks)
}

func TestStartDeployment_PortConflictCleansUp(t *testing.T) {
	f := newFakeClient()
	o := testOrchestrator(f)

	dep := testDeployment(t)
	plan := twoStagePlan(dep.ID)
	f.createErrs["stackup_"+dep.ID+"_app"] = NewDockerError(
		"CreateContainer", "container", "app", "port is already allocated", ErrPortAlreadyAllocated)

	_, err := o.StartDeployment(context.Background(), dep, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPortAlreadyAllocated)

	// Install container was cleaned up after app failed
	assert.Contains(t, f.removed, "ctr-stackup_"+dep.ID+"_install")
}

func TestStartDeployment_ProcessStartFailure(t *testing.T) {
	f := newFakeClient()
	o := testOrchestrator(f)

	dep := testDeployment(t)
	plan := twoStagePlan(dep.ID)
	f.startErrs["ctr-stackup_"+dep.ID+"_app"] = NewDockerError(
		"StartContainer", "container", "app", "executable file not found", ErrProcessStartFailed)

	_, err := o.StartDeployment(context.Background(), dep, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessStartFailed)
	assert.Contains(t, f.removed, "ctr-stackup_"+dep.ID+"_app")
	assert.Contains(t, f.removed, "ctr-stackup_"+dep.ID+"_install")
}

func TestStartDeployment_PullsMissingImages(t *testing.T) {
	f := newFakeClient()
	f.haveImages["redis:7"] = true
	o := testOrchestrator(f)

	dep := testDeployment(t)
	plan := &coredeployment.DeployPlan{
		DeploymentID: dep.ID,
		Project:      "cache",
		Pulls: []coredeployment.PullStep{
			{ServiceName: "cache", Image: "redis:7"},
			{ServiceName: "db", Image: "postgres:16"},
		},
		Containers: []coredeployment.ContainerPlan{
			{ServiceName: "cache", Name: "stackup_" + dep.ID + "_cache", Image: "redis:7"},
			{ServiceName: "db", Name: "stackup_" + dep.ID + "_db", Image: "postgres:16"},
		},
	}

	_, err := o.StartDeployment(context.Background(), dep, plan)
	require.NoError(t, err)

	// Only the missing image is pulled
	assert.Equal(t, []string{"postgres:16"}, f.pulled)
}

func TestStartDeployment_HealthyConditionWaits(t *testing.T) {
	f := newFakeClient()
	o := testOrchestrator(f)

	dep := testDeployment(t)
	dbID := "ctr-stackup_" + dep.ID + "_db"
	f.inspects[dbID] = &ContainerInfo{
		ID:     dbID,
		Status: ContainerStatusRunning,
		State:  "running",
		Health: "healthy",
	}

	plan := &coredeployment.DeployPlan{
		DeploymentID: dep.ID,
		Project:      "web",
		Containers: []coredeployment.ContainerPlan{
			{ServiceName: "db", Name: "stackup_" + dep.ID + "_db", Image: "postgres:16"},
			{
				ServiceName: "web",
				Name:        "stackup_" + dep.ID + "_web",
				Image:       "nginx:alpine",
				WaitFor: []compose.Dependency{
					{Service: "db", Condition: compose.ConditionHealthy},
				},
			},
		},
	}

	containers, err := o.StartDeployment(context.Background(), dep, plan)
	require.NoError(t, err)
	assert.Len(t, containers, 2)
}

func TestStartDeployment_UnhealthyDependencyFails(t *testing.T) {
	f := newFakeClient()
	o := testOrchestrator(f)

	dep := testDeployment(t)
	dbID := "ctr-stackup_" + dep.ID + "_db"
	f.inspects[dbID] = &ContainerInfo{
		ID:     dbID,
		Status: ContainerStatusRunning,
		State:  "running",
		Health: "unhealthy",
	}

	plan := &coredeployment.DeployPlan{
		DeploymentID: dep.ID,
		Project:      "web",
		Containers: []coredeployment.ContainerPlan{
			{ServiceName: "db", Name: "stackup_" + dep.ID + "_db", Image: "postgres:16"},
			{
				ServiceName: "web",
				Name:        "stackup_" + dep.ID + "_web",
				Image:       "nginx:alpine",
				WaitFor: []compose.Dependency{
					{Service: "db", Condition: compose.ConditionHealthy},
				},
			},
		},
	}

	_, err := o.StartDeployment(context.Background(), dep, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy")
}

// =============================================================================
// Wait for Healthy Tests
// =============================================================================

func TestWaitForHealthy_RunningWithoutHealthCheck(t *testing.T) {
	f := newFakeClient()
	o := testOrchestrator(f)

	dep := testDeployment(t)
	dep.Containers = []domain.ContainerInfo{{ID: "ctr-1", ServiceName: "app"}}

	err := o.WaitForHealthy(context.Background(), dep, time.Second)
	require.NoError(t, err)
}

func TestWaitForHealthy_UnhealthyContainerFails(t *testing.T) {
	f := newFakeClient()
	f.inspects["ctr-1"] = &ContainerInfo{
		ID:     "ctr-1",
		Status: ContainerStatusRunning,
		Health: "unhealthy",
	}
	o := testOrchestrator(f)

	dep := testDeployment(t)
	dep.Containers = []domain.ContainerInfo{{ID: "ctr-1", ServiceName: "app"}}

	err := o.WaitForHealthy(context.Background(), dep, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy")
}

func TestWaitForHealthy_CleanExitCounts(t *testing.T) {
	f := newFakeClient()
	f.inspects["ctr-install"] = &ContainerInfo{
		ID:       "ctr-install",
		Status:   ContainerStatusExited,
		ExitCode: 0,
	}
	o := testOrchestrator(f)

	dep := testDeployment(t)
	dep.Containers = []domain.ContainerInfo{
		{ID: "ctr-install", ServiceName: "install"},
		{ID: "ctr-app", ServiceName: "app"},
	}

	err := o.WaitForHealthy(context.Background(), dep, time.Second)
	require.NoError(t, err)
}

// =============================================================================
// Stop / Remove Tests
// =============================================================================

func TestStopDeployment_StopsRunningContainers(t *testing.T) {
	f := newFakeClient()
	f.listResult = []ContainerInfo{
		{ID: "ctr-1", Name: "stackup_d1_app", Status: ContainerStatusRunning},
		{ID: "ctr-2", Name: "stackup_d1_install", Status: ContainerStatusExited},
	}
	o := testOrchestrator(f)

	dep := testDeployment(t)
	err := o.StopDeployment(context.Background(), dep)
	require.NoError(t, err)

	// Only the running container gets a stop call
	assert.Equal(t, []string{"ctr-1"}, f.stopped)
}

func TestRemoveDeployment_RemovesVolumesAndNetwork(t *testing.T) {
	f := newFakeClient()
	f.listResult = []ContainerInfo{
		{ID: "ctr-1", Name: "stackup_d1_app", Status: ContainerStatusRunning},
	}
	o := testOrchestrator(f)

	dep := testDeployment(t)
	err := o.RemoveDeployment(context.Background(), dep, []string{"stackup_" + dep.ID + "_data"})
	require.NoError(t, err)

	assert.Equal(t, []string{"ctr-1"}, f.removed)
	require.Len(t, f.removedNetworks, 1)
	assert.Equal(t, coredeployment.NetworkName(dep.ID), f.removedNetworks[0])
	assert.Equal(t, []string{"stackup_" + dep.ID + "_data"}, f.removedVolumes)
}

// =============================================================================
// Container Logs Tests
// =============================================================================

func TestGetContainerLogs_DemultiplexesStream(t *testing.T) {
	f := newFakeClient()
	var stream bytes.Buffer
	_, err := stdcopy.NewStdWriter(&stream, stdcopy.Stdout).Write([]byte("worker booted\n"))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&stream, stdcopy.Stderr).Write([]byte("listening on :8000\n"))
	require.NoError(t, err)
	f.logStream = stream.Bytes()

	o := testOrchestrator(f)
	logs, err := o.GetContainerLogs(context.Background(), "ctr-1", "100")
	require.NoError(t, err)

	// Frame headers are stripped, both streams are drained in full
	assert.Equal(t, "worker booted\nlistening on :8000\n", logs)
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestContainerSpecFromPlan(t *testing.T) {
	o := testOrchestrator(newFakeClient())

	cp := coredeployment.ContainerPlan{
		ServiceName:   "app",
		Name:          "stackup_d1_app",
		Image:         "stackup_feedmixer_app:latest",
		Command:       []string{"gunicorn", "-b", ":8000", "feedmixer_wsgi"},
		Env:           map[string]string{"LANG": "C.UTF-8", "LC_ALL": "C.UTF-8"},
		User:          "nobody",
		WorkingDir:    "/usr/src/app",
		Ports:         []coredeployment.PortPlan{{ContainerPort: 8000, HostPort: 8000, Protocol: "tcp"}},
		Mounts:        []coredeployment.MountPlan{{Source: "/srv/feeds", Target: "/app", ReadOnly: true}},
		RestartPolicy: coredeployment.RestartPolicyPlan{Name: "no"},
		HealthCheck: &coredeployment.HealthCheckPlan{
			Test:     []string{"CMD", "curl", "-f", "http://localhost:8000/"},
			Interval: 30 * time.Second,
			Retries:  3,
		},
	}

	spec := o.containerSpecFromPlan(cp)

	assert.Equal(t, "stackup_d1_app", spec.Name)
	assert.Equal(t, "nobody", spec.User)
	assert.Equal(t, "/usr/src/app", spec.WorkingDir)
	assert.Equal(t, "C.UTF-8", spec.Env["LANG"])
	require.Len(t, spec.Ports, 1)
	assert.Equal(t, 8000, spec.Ports[0].ContainerPort)
	require.Len(t, spec.Volumes, 1)
	assert.True(t, spec.Volumes[0].ReadOnly)
	assert.Equal(t, "no", spec.RestartPolicy.Name)
	require.NotNil(t, spec.HealthCheck)
	assert.Equal(t, 3, spec.HealthCheck.Retries)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "123456789012", shortID("1234567890123456"))
}
