package compose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalValidManifest = `
services:
  app:
    image: nginx:latest
`

const twoStageManifest = `
services:
  install:
    build:
      context: .
      target: install
    environment:
      LANG: C.UTF-8
      LC_ALL: C.UTF-8
      PIPENV_VENV_IN_PROJECT: "yes"
    volumes:
      - .:/app

  app:
    build:
      context: .
    user: nobody
    working_dir: /app
    ports:
      - "8000:8000"
    environment:
      LANG: C.UTF-8
      LC_ALL: C.UTF-8
    volumes:
      - .:/app
    command: ["gunicorn", "-b", ":8000", "feedmixer_wsgi"]
    depends_on:
      install:
        condition: service_completed_successfully
`

const multiServiceManifest = `
services:
  web:
    image: nginx:latest
    ports:
      - "80:80"
    depends_on:
      - api

  api:
    image: myapp:1.0
    environment:
      DB_HOST: db
    depends_on:
      - db

  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data

volumes:
  pgdata:
`

const unknownDependencyManifest = `
services:
  app:
    image: myapp:1.0
    depends_on:
      - warehouse
`

const circularManifest = `
services:
  a:
    image: img-a
    depends_on:
      - b
  b:
    image: img-b
    depends_on:
      - a
`

// =============================================================================
// ParseManifest Tests
// =============================================================================

func TestParseManifest_Minimal(t *testing.T) {
	manifest, err := ParseManifest(minimalValidManifest)
	require.NoError(t, err)
	require.Len(t, manifest.Services, 1)
	assert.Equal(t, "app", manifest.Services[0].Name)
	assert.Equal(t, "nginx:latest", manifest.Services[0].Image)
}

func TestParseManifest_EmptyInput(t *testing.T) {
	_, err := ParseManifest("")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = ParseManifest("   \n\t  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	_, err := ParseManifest("services: [unclosed")
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseManifest_NoServices(t *testing.T) {
	_, err := ParseManifest("volumes:\n  data:\n")
	require.Error(t, err)
}

func TestParseManifest_TwoStage(t *testing.T) {
	manifest, err := ParseManifest(twoStageManifest)
	require.NoError(t, err)
	require.Len(t, manifest.Services, 2)

	install := manifest.Service("install")
	require.NotNil(t, install)
	require.NotNil(t, install.Build)
	assert.Equal(t, ".", install.Build.Context)
	assert.Equal(t, "install", install.Build.Target)
	assert.Equal(t, "C.UTF-8", install.Environment["LANG"])
	assert.Equal(t, "C.UTF-8", install.Environment["LC_ALL"])
	assert.Equal(t, "yes", install.Environment["PIPENV_VENV_IN_PROJECT"])

	app := manifest.Service("app")
	require.NotNil(t, app)
	assert.Equal(t, "nobody", app.User)
	assert.Equal(t, "/app", app.WorkingDir)
	assert.Equal(t, []string{"gunicorn", "-b", ":8000", "feedmixer_wsgi"}, app.Command)

	require.Len(t, app.Ports, 1)
	assert.Equal(t, uint32(8000), app.Ports[0].Target)
	assert.Equal(t, uint32(8000), app.Ports[0].Published)

	require.Len(t, app.DependsOn, 1)
	assert.Equal(t, "install", app.DependsOn[0].Service)
	assert.Equal(t, ConditionCompleted, app.DependsOn[0].Condition)

	require.Len(t, app.Volumes, 1)
	assert.Equal(t, VolumeMountTypeBind, app.Volumes[0].Type)
	assert.Equal(t, "/app", app.Volumes[0].Target)
}

func TestParseManifest_DefaultDependencyCondition(t *testing.T) {
	manifest, err := ParseManifest(multiServiceManifest)
	require.NoError(t, err)

	web := manifest.Service("web")
	require.NotNil(t, web)
	require.Len(t, web.DependsOn, 1)
	assert.Equal(t, "api", web.DependsOn[0].Service)
	assert.Equal(t, ConditionStarted, web.DependsOn[0].Condition)
}

func TestParseManifest_ServicesSorted(t *testing.T) {
	manifest, err := ParseManifest(multiServiceManifest)
	require.NoError(t, err)
	require.Len(t, manifest.Services, 3)
	assert.Equal(t, "api", manifest.Services[0].Name)
	assert.Equal(t, "db", manifest.Services[1].Name)
	assert.Equal(t, "web", manifest.Services[2].Name)
}

func TestParseManifest_NamedVolumes(t *testing.T) {
	manifest, err := ParseManifest(multiServiceManifest)
	require.NoError(t, err)
	require.Len(t, manifest.Volumes, 1)
	assert.Equal(t, "pgdata", manifest.Volumes[0].Name)

	db := manifest.Service("db")
	require.NotNil(t, db)
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, VolumeMountTypeVolume, db.Volumes[0].Type)
	assert.Equal(t, "pgdata", db.Volumes[0].Source)
}

func TestParseManifest_UnknownDependency(t *testing.T) {
	_, err := ParseManifest(unknownDependencyManifest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDependency)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, parseErr.Field, "services.app.depends_on")
}

func TestParseManifest_CircularDependency(t *testing.T) {
	_, err := ParseManifest(circularManifest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestParseManifest_NoImageOrBuild(t *testing.T) {
	_, err := ParseManifest("services:\n  app:\n    user: nobody\n")
	require.Error(t, err)
}

func TestParseManifest_SecretsUnsupported(t *testing.T) {
	manifest := `
services:
  app:
    image: nginx:latest
secrets:
  token:
    file: ./token.txt
`
	_, err := ParseManifest(manifest)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestParseManifest_BuildArgs(t *testing.T) {
	manifest, err := ParseManifest(`
services:
  app:
    build:
      context: ./src
      dockerfile: Dockerfile.prod
      args:
        PY_VERSION: "3.12"
`)
	require.NoError(t, err)
	app := manifest.Service("app")
	require.NotNil(t, app)
	require.NotNil(t, app.Build)
	assert.Equal(t, "./src", app.Build.Context)
	assert.Equal(t, "Dockerfile.prod", app.Build.Dockerfile)
	assert.Equal(t, "3.12", app.Build.Args["PY_VERSION"])
}

// =============================================================================
// Port Validation Tests
// =============================================================================

func TestValidatePorts_InvalidTarget(t *testing.T) {
	services := []Service{
		{Name: "app", Image: "nginx", Ports: []Port{{Target: 0}}},
	}
	err := validatePorts(services)
	assert.ErrorIs(t, err, ErrServiceInvalidPort)
}

func TestValidatePorts_Valid(t *testing.T) {
	services := []Service{
		{Name: "app", Image: "nginx", Ports: []Port{{Target: 8000, Published: 8000}}},
	}
	assert.NoError(t, validatePorts(services))
}

// =============================================================================
// Variable Extraction Tests
// =============================================================================

func TestExtractVariablesFromYAML(t *testing.T) {
	yaml := `
services:
  app:
    image: myapp
    environment:
      DB_PASSWORD: ${DB_PASSWORD}
      DB_PORT: ${DB_PORT:-5432}
      STATIC: value
`
	vars := ExtractVariablesFromYAML(yaml)
	assert.ElementsMatch(t, []string{"DB_PASSWORD", "DB_PORT"}, vars)
}

func TestExtractVariables_Deduplicates(t *testing.T) {
	manifest := &Manifest{
		Services: []Service{
			{Name: "a", Environment: map[string]string{"X": "${TOKEN}", "Y": "${TOKEN}"}},
		},
	}
	vars := ExtractVariables(manifest)
	assert.Equal(t, []string{"TOKEN"}, vars)
}

// =============================================================================
// Semantic Validation Tests
// =============================================================================

func TestValidateManifest_NegativeResources(t *testing.T) {
	manifest := &Manifest{
		Services: []Service{
			{
				Name:  "app",
				Image: "nginx",
				Resources: ServiceResources{
					CPULimit:    -1,
					MemoryLimit: -100,
				},
			},
		},
	}
	errs := ValidateManifest(manifest)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], ErrInvalidCPU)
	assert.ErrorIs(t, errs[1], ErrInvalidMemory)
}

func TestValidateManifest_Clean(t *testing.T) {
	manifest, err := ParseManifest(twoStageManifest)
	require.NoError(t, err)
	assert.Empty(t, ValidateManifest(manifest))
}
