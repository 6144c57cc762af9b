// Command demeter merges, reprojects and masks GeoTIFF rasters according
// to a YAML job description:
//
//	inputs:
//	  - tiles/soil_carbon_a.tif
//	  - tiles/soil_carbon_b.tif
//	output: merged.tif
//	method: mean
//	crs: EPSG:5070
//	resampling: bilinear
//	mask:
//	  geojson: field_boundary.json
//	  crop: true
//	stddev: merged_stddev.tif
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/useyardstick/demeter/raster"
	"github.com/useyardstick/demeter/raster/geotiff"
	"github.com/useyardstick/demeter/raster/mask"
	"github.com/useyardstick/demeter/raster/merge"
	"github.com/useyardstick/demeter/raster/reproject"
)

type jobConfig struct {
	Inputs []string `yaml:"inputs"`
	Output string   `yaml:"output"`

	Method     string `yaml:"method"`
	Expression string `yaml:"expression"`
	Resampling string `yaml:"resampling"`

	CRS             string    `yaml:"crs"`
	StrictAlignment bool      `yaml:"strict_alignment"`
	Bounds          []float64 `yaml:"bounds"`
	NoData          *float64  `yaml:"nodata"`
	WindowRows      int       `yaml:"window_rows"`
	DType           string    `yaml:"dtype"`

	Variance string `yaml:"variance"`
	StdDev   string `yaml:"stddev"`

	Mask *maskConfig `yaml:"mask"`
}

type maskConfig struct {
	GeoJSON string `yaml:"geojson"`
	Crop    bool   `yaml:"crop"`
	Invert  bool   `yaml:"invert"`
}

func main() {
	configFile := flag.String("config", "", "path to a YAML merge job description")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *configFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(*configFile)
	if err != nil {
		logrus.Fatal(err)
	}
	var cfg jobConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		logrus.Fatalf("parsing %s: %v", *configFile, err)
	}
	if err := run(cfg); err != nil {
		logrus.Fatal(err)
	}
}

func run(cfg jobConfig) error {
	if len(cfg.Inputs) == 0 {
		return fmt.Errorf("job lists no inputs")
	}
	if cfg.Output == "" {
		return fmt.Errorf("job has no output path")
	}

	opts, writeOpts, err := mergeOptions(cfg)
	if err != nil {
		return err
	}

	sources, err := merge.OpenAll(cfg.Inputs...)
	if err != nil {
		return err
	}
	defer merge.CloseAll(sources)
	logrus.Debugf("opened %d inputs", len(sources))

	if cfg.CRS != "" {
		sources, err = reprojectSources(sources, cfg.CRS, opts.Resampling)
		if err != nil {
			return err
		}
	}

	if cfg.Variance != "" || cfg.StdDev != "" {
		if err := writeSpread(sources, cfg, opts, writeOpts); err != nil {
			return err
		}
	}

	if cfg.Mask == nil {
		if err := merge.MergeToFile(sources, cfg.Output, opts, writeOpts...); err != nil {
			return err
		}
		logrus.Infof("wrote %s", cfg.Output)
		return nil
	}

	merged, err := merge.Merge(sources, opts)
	if err != nil {
		return err
	}
	shapes, err := loadShapes(cfg.Mask.GeoJSON)
	if err != nil {
		return err
	}
	maskOpts := mask.Options{
		Crop:       cfg.Mask.Crop,
		Invert:     cfg.Mask.Invert,
		WindowRows: cfg.WindowRows,
	}
	if err := mask.MaskToFile(merged, shapes, cfg.Output, maskOpts, writeOpts...); err != nil {
		return err
	}
	logrus.Infof("wrote %s", cfg.Output)
	return nil
}

// writeSpread computes the per-pixel mean of the inputs and writes the
// requested variance and standard deviation rasters around it.
func writeSpread(sources []raster.Source, cfg jobConfig, opts merge.Options, writeOpts []geotiff.WriteOption) error {
	meanOpts := opts
	meanOpts.Method = merge.Mean
	mean, err := merge.Merge(sources, meanOpts)
	if err != nil {
		return err
	}
	if cfg.Variance != "" {
		if err := merge.MergeVarianceToFile(sources, mean, cfg.Variance, opts, writeOpts...); err != nil {
			return err
		}
		logrus.Infof("wrote %s", cfg.Variance)
	}
	if cfg.StdDev != "" {
		if err := merge.MergeStdDevToFile(sources, mean, cfg.StdDev, opts, writeOpts...); err != nil {
			return err
		}
		logrus.Infof("wrote %s", cfg.StdDev)
	}
	return nil
}

func mergeOptions(cfg jobConfig) (merge.Options, []geotiff.WriteOption, error) {
	opts := merge.Options{
		StrictAlignment: cfg.StrictAlignment,
		NoData:          cfg.NoData,
		WindowRows:      cfg.WindowRows,
	}

	switch {
	case cfg.Expression != "" && cfg.Method != "":
		return opts, nil, fmt.Errorf("job sets both method and expression")
	case cfg.Expression != "":
		method, err := merge.Expression(cfg.Expression)
		if err != nil {
			return opts, nil, err
		}
		opts.Method = method
	default:
		method, err := merge.ParseMethod(cfg.Method)
		if err != nil {
			return opts, nil, err
		}
		opts.Method = method
	}

	if cfg.Resampling != "" {
		method, err := reproject.ParseResampling(cfg.Resampling)
		if err != nil {
			return opts, nil, err
		}
		opts.Resampling = method
	}

	if len(cfg.Bounds) > 0 {
		if len(cfg.Bounds) != 4 {
			return opts, nil, fmt.Errorf("bounds needs 4 values [left, bottom, right, top], got %d", len(cfg.Bounds))
		}
		opts.Bounds = &raster.Bounds{
			Left: cfg.Bounds[0], Bottom: cfg.Bounds[1],
			Right: cfg.Bounds[2], Top: cfg.Bounds[3],
		}
	}

	var writeOpts []geotiff.WriteOption
	if cfg.DType != "" {
		dtype, err := parseDType(cfg.DType)
		if err != nil {
			return opts, nil, err
		}
		writeOpts = append(writeOpts, geotiff.WithDType(dtype))
	}
	return opts, writeOpts, nil
}

func parseDType(name string) (geotiff.DType, error) {
	switch name {
	case "float64":
		return geotiff.Float64, nil
	case "float32":
		return geotiff.Float32, nil
	case "int32":
		return geotiff.Int32, nil
	case "int16":
		return geotiff.Int16, nil
	case "uint32":
		return geotiff.UInt32, nil
	case "uint16":
		return geotiff.UInt16, nil
	case "uint8":
		return geotiff.UInt8, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", name)
}

// reprojectSources warps every input into the target CRS up front, so the
// merge, mask and spread stages all run on a single grid.
func reprojectSources(sources []raster.Source, crs string, method reproject.Resampling) ([]raster.Source, error) {
	out := make([]raster.Source, len(sources))
	for i, src := range sources {
		info, err := src.Info()
		if err != nil {
			return nil, err
		}
		full, err := src.ReadRows(0, info.Height)
		if err != nil {
			return nil, err
		}
		warped, err := reproject.Reproject(full, crs, method)
		if err != nil {
			return nil, err
		}
		out[i] = warped
	}
	return out, nil
}

// loadShapes reads a GeoJSON file holding a FeatureCollection, a single
// Feature, or a bare geometry.
func loadShapes(path string) ([]orb.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		shapes := make([]orb.Geometry, 0, len(fc.Features))
		for _, feat := range fc.Features {
			shapes = append(shapes, feat.Geometry)
		}
		return shapes, nil
	}
	if feat, err := geojson.UnmarshalFeature(data); err == nil {
		return []orb.Geometry{feat.Geometry}, nil
	}
	geom, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return []orb.Geometry{geom.Geometry()}, nil
}
