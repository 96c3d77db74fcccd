/**
 * Filename: /Users/htang/code/scanchor/cmd/scanchor.go
 * Path: /Users/htang/code/scanchor/cmd
 * Created Date: Wednesday, January 3rd 2018, 11:21:45 am
 * Author: htang
 *
 * Copyright (c) 2018 Haibao Tang
 */

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	logging "github.com/op/go-logging"
	"github.com/spf13/cobra"
	"github.com/tanghaibao/scanchor"
)

var log = logging.MustGetLogger("main")

// Flags shared by all the commands
var (
	configFile string
	verbose    bool
	output     string
	overrides  = scanchor.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "scanchor",
	Short: "Anchor based integration and reference mapping of single-cell data",
	Long: `
  ___  ___   _   _  _  ___ _  _  ___  ___
 / __|/ __| /_\ | \| |/ __| || |/ _ \| _ \
 \__ \ (__ / _ \| .` + "`" + ` | (__| __ | (_) |   /
 |___/\___/_/ \_\_|\_|\___|_||_|\___/|_|_\

Anchor based integration and reference mapping of single-cell data.
Datasets are tab separated cells x features tables, the first column holds
the cell ids and the header holds the feature names. Files ending with .gz
are transparently (de)compressed.`,
	Version:       scanchor.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.NOTICE
		if verbose {
			level = logging.DEBUG
		}
		leveled := logging.AddModuleLevel(scanchor.BackendFormatter)
		leveled.SetLevel(level, "")
		logging.SetBackend(leveled)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "YAML config file, flags take precedence")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Print debug messages")
	pf.IntVar(&overrides.Dims, "dims", overrides.Dims, "Number of components of the integration space")
	pf.IntVar(&overrides.AlignDims, "align-dims", overrides.AlignDims, "Number of CCA components used to match cells, 0 means --dims")
	pf.IntVar(&overrides.KAnchor, "k-anchor", overrides.KAnchor, "Neighbors for mutual nearest neighbor matching")
	pf.IntVar(&overrides.KFilter, "k-filter", overrides.KFilter, "Neighbors in feature space to keep an anchor, 0 disables")
	pf.IntVar(&overrides.KScore, "k-score", overrides.KScore, "Neighborhood size used to score anchors")
	pf.IntVar(&overrides.KWeight, "k-weight", overrides.KWeight, "Number of anchors used to correct each cell")
	pf.Float64Var(&overrides.SDWeight, "sd-weight", overrides.SDWeight, "Bandwidth of the anchor weighting kernel")
	pf.Float64Var(&overrides.ScoreFloor, "score-floor", overrides.ScoreFloor, "Drop anchors scoring below this")
	pf.IntVar(&overrides.MaxPerCell, "max-per-cell", overrides.MaxPerCell, "Keep the top anchors of every cell, 0 keeps all")
	pf.StringVar(&overrides.Searcher, "searcher", overrides.Searcher, "Nearest neighbor backend, exact or hnsw")
	pf.IntVar(&overrides.Workers, "workers", overrides.Workers, "Number of workers, 0 uses all CPUs")
	pf.Int64Var(&overrides.Seed, "seed", overrides.Seed, "Random seed")

	rootCmd.AddCommand(anchorsCmd, integrateCmd, referenceCmd, mapCmd, assessCmd)
}

// loadConfig reads the config file, then applies the flags that were set
func loadConfig(cmd *cobra.Command) (scanchor.Config, error) {
	cfg := scanchor.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = scanchor.LoadConfig(configFile); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("dims", func() { cfg.Dims = overrides.Dims })
	set("align-dims", func() { cfg.AlignDims = overrides.AlignDims })
	set("k-anchor", func() { cfg.KAnchor = overrides.KAnchor })
	set("k-filter", func() { cfg.KFilter = overrides.KFilter })
	set("k-score", func() { cfg.KScore = overrides.KScore })
	set("k-weight", func() { cfg.KWeight = overrides.KWeight })
	set("sd-weight", func() { cfg.SDWeight = overrides.SDWeight })
	set("score-floor", func() { cfg.ScoreFloor = overrides.ScoreFloor })
	set("max-per-cell", func() { cfg.MaxPerCell = overrides.MaxPerCell })
	set("searcher", func() { cfg.Searcher = overrides.Searcher })
	set("workers", func() { cfg.Workers = overrides.Workers })
	set("seed", func() { cfg.Seed = overrides.Seed })
	return cfg, cfg.Validate()
}

// readDatasets parses every dataset file
func readDatasets(filenames []string) ([]*scanchor.Dataset, error) {
	datasets := make([]*scanchor.Dataset, len(filenames))
	for i, filename := range filenames {
		ds, err := scanchor.ReadDataset(filename, "")
		if err != nil {
			return nil, err
		}
		datasets[i] = ds
	}
	return datasets, nil
}

// annotation returns a categorical annotation, numeric ones are formatted
func annotation(ds *scanchor.Dataset, key string) ([]string, bool) {
	if labels, ok := ds.Labels[key]; ok {
		return labels, true
	}
	values, ok := ds.Values[key]
	if !ok {
		return nil, false
	}
	labels := make([]string, len(values))
	for i, v := range values {
		labels[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return labels, true
}

// banner prints the separate steps
func banner(message string) {
	message = "* " + message + " *"
	log.Notice(strings.Repeat("*", len(message)))
	log.Notice(message)
	log.Notice(strings.Repeat("*", len(message)))
}

var anchorsCmd = &cobra.Command{
	Use:   "anchors data1.tsv data2.tsv [...]",
	Short: "Find scored anchors between all pairs of datasets",
	Long: `
Anchors function:
Every pair of datasets is embedded by canonical correlation analysis, matched
by mutual nearest neighbors, filtered in feature space and scored by the
consistency of the neighborhoods. The anchors are written one per line:

dataset1  cell1  dataset2  cell2  score

The merge order used by "integrate" is written with --bundle.
`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		datasets, err := readDatasets(args)
		if err != nil {
			return err
		}
		banner(fmt.Sprintf("Anchors for %d datasets", len(datasets)))
		anchorer := &scanchor.Anchorer{Config: cfg}
		set, order, err := anchorer.FindAnchors(context.Background(), datasets)
		if err != nil {
			return err
		}
		if err := scanchor.WriteAnchors(output, set); err != nil {
			return err
		}
		if bundle, _ := cmd.Flags().GetString("bundle"); bundle != "" {
			return scanchor.SaveAnchors(bundle, set, order)
		}
		return nil
	},
}

var integrateCmd = &cobra.Command{
	Use:   "integrate data1.tsv data2.tsv [...]",
	Short: "Integrate datasets into one corrected embedding",
	Long: `
Integrate function:
Datasets are reduced jointly, anchored pairwise and merged along the anchor
graph, each merge correcting the smaller group into the frame of the larger
one. Anchors cached with "anchors --bundle" can be reused with --anchors.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		datasets, err := readDatasets(args)
		if err != nil {
			return err
		}
		ctx := context.Background()
		var set *scanchor.AnchorSet
		var order *scanchor.MergeOrder
		if bundle, _ := cmd.Flags().GetString("anchors"); bundle != "" {
			set, order, err = scanchor.LoadAnchors(bundle)
		} else {
			banner(fmt.Sprintf("Anchors for %d datasets", len(datasets)))
			set, order, err = (&scanchor.Anchorer{Config: cfg}).FindAnchors(ctx, datasets)
		}
		if err != nil {
			return err
		}

		banner("Integrate")
		integrated, err := (&scanchor.Integrator{Config: cfg}).Integrate(ctx, datasets, set, order)
		if err != nil {
			return err
		}
		_, dims := integrated.Matrix.Dims()
		if err := scanchor.WriteMatrix(output, integrated.Cells, scanchor.ComponentNames("PC", dims), integrated.Matrix); err != nil {
			return err
		}
		if npy, _ := cmd.Flags().GetString("npy"); npy != "" {
			return scanchor.WriteNpy(npy, integrated.Matrix)
		}
		return nil
	},
}

var referenceCmd = &cobra.Command{
	Use:   "reference data1.tsv [...]",
	Short: "Build a reference model for query mapping",
	Long: `
Reference function:
A single dataset is reduced by PCA, several datasets are integrated first.
Cell annotations (cell id in the first column, one column per annotation)
are attached with --annotations, one file per dataset in the same order.
The model is saved as a msgpack bundle, gzipped when the name ends with .gz.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		datasets, err := readDatasets(args)
		if err != nil {
			return err
		}
		annotations, _ := cmd.Flags().GetStringSlice("annotations")
		if len(annotations) > 0 && len(annotations) != len(datasets) {
			return fmt.Errorf("%d annotation files for %d datasets", len(annotations), len(datasets))
		}
		for i, filename := range annotations {
			if err := scanchor.ReadAnnotations(filename, datasets[i]); err != nil {
				return err
			}
		}
		var fitter scanchor.VisualFitter
		if visual, _ := cmd.Flags().GetBool("visual"); visual {
			isomap := scanchor.NewLandmarkIsomap()
			isomap.Seed = cfg.Seed
			if refine, _ := cmd.Flags().GetBool("refine"); refine {
				isomap.Refiner = scanchor.NewRefiner(cfg.Seed)
			}
			fitter = isomap
		}

		banner("Reference")
		var ref *scanchor.ReferenceModel
		if len(datasets) == 1 {
			ref, err = scanchor.BuildReference(datasets[0], scanchor.PCA{}, cfg.Dims, fitter)
		} else {
			ref, _, err = scanchor.BuildIntegratedReference(context.Background(), datasets, cfg, scanchor.PCA{}, fitter)
		}
		if err != nil {
			return err
		}
		return scanchor.SaveReference(output, ref)
	},
}

var mapCmd = &cobra.Command{
	Use:   "map reference.msgpack query.tsv",
	Short: "Map a query dataset onto a reference",
	Long: `
Map function:
The query is projected on the reference components and anchored to the
reference cells. The anchors transfer the reference label named by --label
(and the numeric annotation named by --value) and correct the query into the
reference space. With --visual the corrected
query is placed in the visualization fitted with the reference.
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ref, err := scanchor.LoadReference(args[0])
		if err != nil {
			return err
		}
		query, err := scanchor.ReadDataset(args[1], "")
		if err != nil {
			return err
		}
		label, _ := cmd.Flags().GetString("label")
		value, _ := cmd.Flags().GetString("value")
		visual, _ := cmd.Flags().GetBool("visual")

		banner(fmt.Sprintf("Map `%s` onto `%s`", query.Name, ref.Name))
		ctx := context.Background()
		var ta *scanchor.TransferAnchors
		if cached, _ := cmd.Flags().GetString("anchors"); cached != "" {
			ta, err = scanchor.LoadTransferAnchors(cached)
		} else {
			ta, err = scanchor.FindTransferAnchors(ctx, ref, query, cfg)
		}
		if err != nil {
			return err
		}
		if bundle, _ := cmd.Flags().GetString("bundle"); bundle != "" {
			if err := scanchor.SaveTransferAnchors(bundle, ta); err != nil {
				return err
			}
		}
		proj, preds, err := scanchor.MapQuery(ctx, ta, ref, query,
			scanchor.MapOptions{LabelKey: label, ValueKey: value, Visual: visual, Workers: cfg.Workers})
		if err != nil {
			return err
		}
		if preds != nil {
			if err := scanchor.WritePredictions(output, preds); err != nil {
				return err
			}
		} else {
			_, dims := proj.Embedding.Dims()
			if err := scanchor.WriteMatrix(output, proj.Cells, scanchor.ComponentNames("PC", dims), proj.Embedding); err != nil {
				return err
			}
		}
		if npy, _ := cmd.Flags().GetString("npy"); npy != "" {
			return scanchor.WriteNpy(npy, proj.Embedding)
		}
		return nil
	},
}

var assessCmd = &cobra.Command{
	Use:   "assess embedding.tsv annotations.tsv",
	Short: "Assess dataset mixing and label separation of an embedding",
	Long: `
Assess function:
Reports the mean fraction of neighbors from another batch (mixing), the mean
fraction of neighbors sharing the label (purity) and the accuracy of a
k-means clustering matched to the labels by the Hungarian algorithm.
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		emb, err := scanchor.ReadDataset(args[0], "embedding")
		if err != nil {
			return err
		}
		if err := scanchor.ReadAnnotations(args[1], emb); err != nil {
			return err
		}
		batchKey, _ := cmd.Flags().GetString("batch")
		labelKey, _ := cmd.Flags().GetString("label")
		batches, ok := annotation(emb, batchKey)
		if !ok {
			return fmt.Errorf("no annotation `%s` in `%s`", batchKey, args[1])
		}
		labels, ok := annotation(emb, labelKey)
		if !ok {
			return fmt.Errorf("no annotation `%s` in `%s`", labelKey, args[1])
		}
		batch := make([]int, len(batches))
		index := map[string]int{}
		for i, b := range batches {
			if _, ok := index[b]; !ok {
				index[b] = len(index)
			}
			batch[i] = index[b]
		}
		k, _ := cmd.Flags().GetInt("k")
		restarts, _ := cmd.Flags().GetInt("restarts")
		assesser := &scanchor.Assesser{K: k, Restarts: restarts, Workers: cfg.Workers}
		res, err := assesser.Assess(context.Background(), emb.X, batch, labels)
		if err != nil {
			return err
		}
		fmt.Printf("cells\t%d\nmixing\t%.4f\npurity\t%.4f\naccuracy\t%.4f\n",
			res.Cells, res.Mixing, res.Purity, res.Accuracy)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{anchorsCmd, integrateCmd, referenceCmd, mapCmd} {
		cmd.Flags().StringVarP(&output, "output", "o", "", "Output file")
		_ = cmd.MarkFlagRequired("output")
	}
	anchorsCmd.Flags().String("bundle", "", "Also save anchors and merge order as a msgpack bundle")
	integrateCmd.Flags().String("anchors", "", "Reuse an anchor bundle saved by `anchors --bundle`")
	integrateCmd.Flags().String("npy", "", "Also save the integrated matrix as .npy")
	referenceCmd.Flags().StringSlice("annotations", nil, "Cell annotation tables, one per dataset")
	referenceCmd.Flags().Bool("visual", false, "Fit a landmark isomap visualization")
	referenceCmd.Flags().Bool("refine", false, "Refine mapped visualization coordinates by GA")
	mapCmd.Flags().String("label", "", "Reference label to transfer")
	mapCmd.Flags().String("value", "", "Numeric reference annotation to transfer")
	mapCmd.Flags().String("anchors", "", "Reuse transfer anchors saved by `map --bundle`")
	mapCmd.Flags().String("bundle", "", "Also save the transfer anchors as a msgpack bundle")
	mapCmd.Flags().Bool("visual", false, "Place the query in the reference visualization")
	mapCmd.Flags().String("npy", "", "Also save the corrected query embedding as .npy")
	assessCmd.Flags().String("batch", "dataset", "Annotation holding the batch of every cell")
	assessCmd.Flags().String("label", "label", "Annotation holding the cell label")
	assessCmd.Flags().Int("k", 20, "Number of neighbors")
	assessCmd.Flags().Int("restarts", scanchor.DefaultRestarts, "Number of k-means runs")
}
