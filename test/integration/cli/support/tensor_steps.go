package support

import (
	"fmt"
	"os"
	"strings"

	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/MeKo-Tech/fastdet/internal/testutil"
	"github.com/cucumber/godog"
)

// writeTensor stores ten under the temp dir as JSON (.json) or raw float32.
func (testCtx *TestContext) writeTensor(filename string, ten tensor.Tensor) error {
	f, err := os.Create(testCtx.TempPath(filename))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer func() { _ = f.Close() }()

	if strings.HasSuffix(filename, ".json") {
		return tensor.WriteJSON(f, ten)
	}
	return tensor.WriteRaw(f, ten)
}

// aSingleGridTensorWithOverlappingDetections writes two class-3 boxes at x 0..100 and 50..150
// on a 200x100 image.
func (testCtx *TestContext) aSingleGridTensorWithOverlappingDetections(filename string) error {
	ten, err := testutil.BuildSingleGrid(4, 4, 4,
		testutil.GridHit{Row: 2, Col: 1, Class: 3, Obj: 1, ClassScore: 1},
		testutil.GridHit{Row: 2, Col: 2, Class: 3, Obj: 0.9, ClassScore: 0.9},
	)
	if err != nil {
		return err
	}
	return testCtx.writeTensor(filename, ten)
}

// multiScaleTensorsWithOneDetection writes a COCO Yolo-FastestV2 output pair
// holding one class-17 detection.
func (testCtx *TestContext) multiScaleTensorsWithOneDetection(large, small string) error {
	p22, err := testutil.BuildAnchor(80, 22, 22, testutil.AnchorHit{
		Row: 5, Col: 5, Anchor: 0, Class: 17, Obj: 0.9, ClassScore: 0.8, Box: testutil.CenteredAnchorBox,
	})
	if err != nil {
		return err
	}
	p11, err := testutil.BuildAnchor(80, 11, 11)
	if err != nil {
		return err
	}
	if err := testCtx.writeTensor(large, p22); err != nil {
		return err
	}
	return testCtx.writeTensor(small, p11)
}

// RegisterTensorSteps registers the steps that create tensor dumps.
func (testCtx *TestContext) RegisterTensorSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a single-grid tensor "([^"]*)" with two overlapping detections$`,
		testCtx.aSingleGridTensorWithOverlappingDetections)
	sc.Step(`^multi-scale tensors "([^"]*)" and "([^"]*)" with one detection$`,
		testCtx.multiScaleTensorsWithOneDetection)
}
