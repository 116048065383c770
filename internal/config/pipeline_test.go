package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const samplePipelineJSON = `{
  "vis": "/data/J1924.ms",
  "caltable_dir": "/data/cal",
  "imager": {"kind": "tclean", "params": {"imsize": 1024, "cell": "0.05arcsec", "niter": 500}},
  "selfcal": {"refant": "DA41", "spwmap": [0, 0, 0, 0], "restore_psnr": true},
  "stages": [
    {"mode": "p", "solint": ["inf", "30s"], "varchange_imager": {"niter": [500, 1000]}},
    {"mode": "ap", "solint": ["inf"], "incremental": false, "selfcal": {"minsnr": 5, "spwmap": [0]}}
  ],
  "output": {"statwt": true},
  "casa": {"path": "/opt/casa/bin/casa", "host": "proc1"}
}`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadPipelineConfigJSON(t *testing.T) {
	cfg, err := LoadPipelineConfig(writeConfig(t, "pipeline.json", samplePipelineJSON))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetVis() != "/data/J1924.ms" {
		t.Errorf("GetVis() = %q", cfg.GetVis())
	}
	if cfg.GetName() != "J1924" {
		t.Errorf("GetName() = %q, want J1924", cfg.GetName())
	}
	if cfg.GetCaltableDir() != "/data/cal" {
		t.Errorf("GetCaltableDir() = %q", cfg.GetCaltableDir())
	}
	if len(cfg.Stages) != 2 {
		t.Fatalf("Expected 2 stages, got %d", len(cfg.Stages))
	}
	if cfg.Stages[1].GetIncremental() {
		t.Error("Expected stage 1 incremental=false")
	}
	if got := cfg.Stages[0].VarchangeImager["niter"]; len(got) != 2 || got[1] != float64(1000) {
		t.Errorf("varchange_imager niter = %v", got)
	}
	if cfg.GetImagerParams()["cell"] != "0.05arcsec" {
		t.Errorf("imager params = %v", cfg.GetImagerParams())
	}
	if !cfg.GetOutputEnabled() || !cfg.GetOutputStatWt() || cfg.GetOutputOverwrite() {
		t.Errorf("unexpected output settings: %+v", cfg.Output)
	}
	if cfg.GetCASAPath() != "/opt/casa/bin/casa" || cfg.GetCASAHost() != "proc1" {
		t.Errorf("unexpected casa settings: %+v", cfg.CASA)
	}
}

func TestLoadPipelineConfigYAML(t *testing.T) {
	yamlDoc := `
vis: target.ms
imager:
  kind: wsclean
  binary: /usr/local/bin/wsclean
  params:
    imsize: 2048
stages:
  - mode: p
    solint: [inf, 60s, 30s]
    varchange_selfcal:
      minsnr: [3, 2, 2]
  - mode: a
    solint: [inf]
`
	cfg, err := LoadPipelineConfig(writeConfig(t, "pipeline.yaml", yamlDoc))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetImagerKind() != ImagerWSClean {
		t.Errorf("GetImagerKind() = %q", cfg.GetImagerKind())
	}
	if cfg.GetImagerBinary() != "/usr/local/bin/wsclean" {
		t.Errorf("GetImagerBinary() = %q", cfg.GetImagerBinary())
	}
	// YAML integers decode as int, not float64.
	if v := cfg.GetImagerParams()["imsize"]; v != 2048 {
		t.Errorf("imsize = %#v", v)
	}
	if got := cfg.Stages[0].VarchangeSelfcal["minsnr"]; len(got) != 3 {
		t.Errorf("varchange_selfcal = %v", got)
	}
	if cfg.Stages[1].GetIncremental() {
		t.Error("incremental should default to false")
	}
}

func TestLoadPipelineConfigRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"extension", "pipeline.toml", `vis = "x"`, "extension"},
		{"bad json", "bad.json", `{"vis": `, "parse config JSON"},
		{"bad yaml", "bad.yaml", "vis: [", "parse config YAML"},
		{"no vis", "novis.json", `{"stages": [{"mode": "p", "solint": ["inf"]}]}`, "vis must be set"},
		{"no stages", "nostages.json", `{"vis": "a.ms"}`, "at least one stage"},
		{"bad mode", "mode.json", `{"vis": "a.ms", "stages": [{"mode": "x", "solint": ["inf"]}]}`, "mode must be"},
		{"empty solint", "solint.json", `{"vis": "a.ms", "stages": [{"mode": "p", "solint": []}]}`, "solint must not be empty"},
		{"incremental on p", "inc.json", `{"vis": "a.ms", "stages": [{"mode": "p", "solint": ["inf"], "incremental": true}]}`, "incremental"},
		{"incremental on a", "inca.json", `{"vis": "a.ms", "stages": [{"mode": "a", "solint": ["inf"], "incremental": false}]}`, "incremental"},
		{"bad imager", "imager.json", `{"vis": "a.ms", "imager": {"kind": "difmap"}, "stages": [{"mode": "p", "solint": ["inf"]}]}`, "imager.kind"},
		{"bad minblperant", "mbl.json", `{"vis": "a.ms", "selfcal": {"minblperant": 0}, "stages": [{"mode": "p", "solint": ["inf"]}]}`, "minblperant"},
		{"bad stage minsnr", "snr.json", `{"vis": "a.ms", "stages": [{"mode": "p", "solint": ["inf"], "selfcal": {"minsnr": -1}}]}`, "stages[0]: minsnr"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadPipelineConfig(writeConfig(t, tc.file, tc.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadPipelineConfigMissing(t *testing.T) {
	if _, err := LoadPipelineConfig("/nonexistent/path/to/pipeline.json"); err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadPipelineConfigRejectsLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.yaml")
	if err := os.WriteFile(path, make([]byte, 2*1024*1024), 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}
	if _, err := LoadPipelineConfig(path); err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := EmptyPipelineConfig()

	if cfg.GetImagerKind() != ImagerTClean {
		t.Errorf("GetImagerKind() = %q, want tclean", cfg.GetImagerKind())
	}
	if cfg.GetImagerBinary() != "wsclean" {
		t.Errorf("GetImagerBinary() = %q", cfg.GetImagerBinary())
	}
	if cfg.GetImagerParams() == nil {
		t.Error("GetImagerParams() should never be nil")
	}
	if !cfg.GetOutputEnabled() {
		t.Error("output should be enabled by default")
	}
	if cfg.GetOutputStatWt() || cfg.GetOutputOverwrite() {
		t.Error("statwt and overwrite default to false")
	}
	if cfg.GetCASAPath() != "casa" {
		t.Errorf("GetCASAPath() = %q", cfg.GetCASAPath())
	}
	if cfg.GetCASAHost() != "" || cfg.GetCASADryRun() {
		t.Error("CASA runs locally for real by default")
	}
	if cfg.GetCASAScriptDir() != os.TempDir() {
		t.Errorf("GetCASAScriptDir() = %q", cfg.GetCASAScriptDir())
	}
	if cfg.GetDBPath() != "" || cfg.GetReportDir() != "" {
		t.Error("db and reports are disabled by default")
	}
}

func TestCASASetters(t *testing.T) {
	cfg := EmptyPipelineConfig()
	cfg.SetCASAPath("/opt/casa")
	cfg.SetCASAHost("proc2")
	cfg.SetCASADryRun(true)

	if cfg.GetCASAPath() != "/opt/casa" || cfg.GetCASAHost() != "proc2" || !cfg.GetCASADryRun() {
		t.Errorf("setters not applied: %+v", cfg.CASA)
	}
}

func TestMergeSelfcal(t *testing.T) {
	base := &SelfcalConfig{
		Refant:      ptrString("DA41"),
		Spwmap:      []int{0, 0},
		RestorePSNR: ptrBool(true),
	}
	over := &SelfcalConfig{
		Refant: ptrString("DV03"),
		Spwmap: []int{1},
	}

	got := MergeSelfcal(base, over)
	if *got.Refant != "DV03" {
		t.Errorf("Refant = %q, want DV03", *got.Refant)
	}
	if len(got.Spwmap) != 1 || got.Spwmap[0] != 1 {
		t.Errorf("Spwmap = %v", got.Spwmap)
	}
	if got.RestorePSNR == nil || !*got.RestorePSNR {
		t.Error("RestorePSNR should be inherited")
	}

	// The merged copy does not alias base.
	got.Spwmap[0] = 9
	if base.Spwmap[0] != 0 {
		t.Error("MergeSelfcal aliased base spwmap")
	}

	if empty := MergeSelfcal(nil, nil); empty == nil || empty.Refant != nil {
		t.Errorf("MergeSelfcal(nil, nil) = %+v", empty)
	}
}

func TestStageSelfcal(t *testing.T) {
	cfg, err := LoadPipelineConfig(writeConfig(t, "pipeline.json", samplePipelineJSON))
	if err != nil {
		t.Fatal(err)
	}
	st := cfg.StageSelfcal(1)
	if st.MinSNR == nil || *st.MinSNR != 5 {
		t.Errorf("stage minsnr = %v", st.MinSNR)
	}
	if st.Refant == nil || *st.Refant != "DA41" {
		t.Errorf("stage refant = %v", st.Refant)
	}
	if len(st.Spwmap) != 1 {
		t.Errorf("stage spwmap = %v", st.Spwmap)
	}
}
