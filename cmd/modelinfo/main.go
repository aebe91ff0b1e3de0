// Command modelinfo inspects the persisted activity model.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smukkama/beehive-server/internal/logging"
	"github.com/smukkama/beehive-server/internal/ml"
	"github.com/smukkama/beehive-server/internal/recordstore"
	"github.com/smukkama/beehive-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var modelPath, featureSet string

	root := &cobra.Command{
		Use:           "modelinfo",
		Short:         "Inspect the persisted hive activity model",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			model, err := loadModel(modelPath, featureSet)
			if err != nil {
				return err
			}
			return printModel(cmd.OutOrStdout(), model)
		},
	}
	root.PersistentFlags().StringVar(&modelPath, "model", cfg.Model.Path, "path of the model file")
	root.PersistentFlags().StringVar(&featureSet, "feature-set", cfg.Model.FeatureSet, "feature set the model was trained on")

	root.AddCommand(newPredictCmd(cfg, &modelPath, &featureSet))
	return root
}

func newPredictCmd(cfg *config.Config, modelPath, featureSet *string) *cobra.Command {
	var (
		in    ml.PredictInput
		noise float64
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify one set of conditions against the stored history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			model, err := loadModel(*modelPath, *featureSet)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("noise") {
				in.NoiseDB = &noise
			}

			log := logging.New(cfg.Log)
			log.SetOutput(io.Discard)
			store, closeStore, err := recordstore.Open(cfg.Database, log)
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := ml.NewPredictor(staticModel{model}, store, ml.PredictorConfig{}).Predict(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (class %d, P(high)=%.3f, model %s)\n",
				res.PredictedLabel, res.PredictedClass, res.ProbaHigh, res.ModelID)
			return nil
		},
	}

	cmd.Flags().Float64Var(&in.Temperature, "temperature", 30, "air temperature in °C")
	cmd.Flags().Float64Var(&in.Humidity, "humidity", 60, "relative humidity in %")
	cmd.Flags().Float64Var(&in.Pollution, "pollution", 30, "pollution index")
	cmd.Flags().Float64Var(&noise, "noise", ml.DefaultNoiseDB, "hive noise level in dB")
	return cmd
}

// staticModel serves an already loaded model to the predictor
type staticModel struct {
	model *ml.TrainedModel
}

func (s staticModel) EnsureModel(context.Context) (*ml.TrainedModel, error) {
	return s.model, nil
}

func loadModel(path, featureSet string) (*ml.TrainedModel, error) {
	schema, err := ml.SchemaByName(featureSet)
	if err != nil {
		return nil, err
	}
	res := ml.NewFileStore(path).Load(schema)
	if res.Status != ml.LoadLoaded {
		if res.Err != nil {
			return nil, fmt.Errorf("model %s is %s: %w", path, res.Status, res.Err)
		}
		return nil, fmt.Errorf("model %s is %s", path, res.Status)
	}
	return res.Model, nil
}

func printModel(w io.Writer, m *ml.TrainedModel) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Model\t%s\n", m.ID)
	fmt.Fprintf(tw, "Feature set\t%s (v%d)\n", m.SchemaName, m.SchemaVersion)
	fmt.Fprintf(tw, "Trained at\t%s\n", m.TrainedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(tw, "Rows\t%d (train %d, test %d)\n", m.RowCount, m.Metrics.TrainRows, m.Metrics.TestRows)

	if f := m.Forest; f != nil {
		fmt.Fprintf(tw, "Trees\t%d\n", len(f.Trees))
		fmt.Fprintf(tw, "Seed\t%d\n", f.Params.Seed)
		fmt.Fprintf(tw, "Max features\t%d\n", f.MaxFeatures())
		fmt.Fprintf(tw, "Max depth\t%d\n", f.Params.MaxDepth)
		fmt.Fprintf(tw, "Min samples split\t%d\n", f.Params.MinSamplesSplit)
	}

	fmt.Fprintf(tw, "Accuracy\t%.3f\n", m.Metrics.Accuracy)
	fmt.Fprintf(tw, "F1\t%.3f\n", m.Metrics.F1)
	if m.Metrics.ROCAUC != nil {
		fmt.Fprintf(tw, "ROC AUC\t%.3f\n", *m.Metrics.ROCAUC)
	} else {
		fmt.Fprintf(tw, "ROC AUC\tn/a\n")
	}
	fmt.Fprintf(tw, "CV mean accuracy\t%.3f\n", m.Metrics.CVMeanAccuracy)
	cm := m.Metrics.ConfusionMatrix
	fmt.Fprintf(tw, "Confusion matrix\t[[%d %d] [%d %d]]\n", cm[0][0], cm[0][1], cm[1][0], cm[1][1])

	fmt.Fprintln(tw, "\nFeature\tImportance")
	names := slices.Clone(m.Features)
	slices.SortStableFunc(names, func(a, b string) int {
		ia, ib := m.Metrics.FeatureImportances[a], m.Metrics.FeatureImportances[b]
		switch {
		case ia > ib:
			return -1
		case ia < ib:
			return 1
		}
		return 0
	})
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%.4f\n", name, m.Metrics.FeatureImportances[name])
	}
	return tw.Flush()
}
