package support

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// iRunCommand executes a CLI command from the scenario temp directory.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)

	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...) //nolint:gosec // G204: scenario-defined command
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	output, err := cmd.CombinedOutput()
	testCtx.LastOutput = string(output)
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// jsonPart returns the output from the first '{' or '[' onwards.
func jsonPart(output string) (string, error) {
	output = strings.TrimSpace(output)
	start := strings.IndexAny(output, "{[")
	if start == -1 {
		return "", fmt.Errorf("no JSON found in output: %s", output)
	}
	return output[start:], nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	part, err := jsonPart(testCtx.LastOutput)
	if err != nil {
		return err
	}
	var js json.RawMessage
	if err := json.Unmarshal([]byte(part), &js); err != nil {
		return fmt.Errorf("output is not valid JSON: %w\nJSON part: %s", err, part)
	}
	return nil
}

// frames decodes the JSON frame list printed by decode and infer.
func frames(data string) ([]map[string]any, error) {
	part, err := jsonPart(data)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	if err := json.Unmarshal([]byte(part), &out); err != nil {
		return nil, fmt.Errorf("output is not a JSON frame list: %w", err)
	}
	return out, nil
}

func checkFrames(data string, wantFrames, wantBoxes int) error {
	fr, err := frames(data)
	if err != nil {
		return err
	}
	if len(fr) != wantFrames {
		return fmt.Errorf("expected %d frames, got %d", wantFrames, len(fr))
	}
	for i, f := range fr {
		boxes, _ := f["boxes"].([]any)
		if len(boxes) != wantBoxes {
			return fmt.Errorf("frame %d: expected %d boxes, got %d", i, wantBoxes, len(boxes))
		}
	}
	return nil
}

func (testCtx *TestContext) theJSONShouldListFramesWithBoxesEach(wantFrames, wantBoxes int) error {
	return checkFrames(testCtx.LastOutput, wantFrames, wantBoxes)
}

func (testCtx *TestContext) theFirstBoxShouldBeLabeled(label string) error {
	fr, err := frames(testCtx.LastOutput)
	if err != nil {
		return err
	}
	if len(fr) == 0 {
		return errors.New("no frames in output")
	}
	boxes, _ := fr[0]["boxes"].([]any)
	if len(boxes) == 0 {
		return errors.New("first frame has no boxes")
	}
	box, _ := boxes[0].(map[string]any)
	if got, _ := box["label"].(string); got != label {
		return fmt.Errorf("expected label %q, got %q", label, got)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}

	fullErrorText := testCtx.LastOutput
	if testCtx.LastError != nil {
		fullErrorText += " " + testCtx.LastError.Error()
	}
	if !strings.Contains(strings.ToLower(fullErrorText), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, fullErrorText)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(filename string) error {
	if _, err := os.Stat(testCtx.TempPath(filename)); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", testCtx.TempPath(filename))
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(filename, expectedContent string) error {
	content, err := os.ReadFile(testCtx.TempPath(filename))
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if !strings.Contains(string(content), expectedContent) {
		return fmt.Errorf("file %s does not contain '%s'\nActual content: %s",
			filename, expectedContent, string(content))
	}
	return nil
}

func (testCtx *TestContext) theFileShouldListFramesWithBoxesEach(filename string, wantFrames, wantBoxes int) error {
	content, err := os.ReadFile(testCtx.TempPath(filename))
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return checkFrames(string(content), wantFrames, wantBoxes)
}

func (testCtx *TestContext) theFileContains(filename string, content *godog.DocString) error {
	return os.WriteFile(testCtx.TempPath(filename), []byte(content.Content), 0o600)
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, testCtx.substituteCommandVariables(value))
	return nil
}

// RegisterCommonSteps registers command, output and file steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)

	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should list (\d+) frames? with (\d+) box(?:es)? each$`, testCtx.theJSONShouldListFramesWithBoxesEach)
	sc.Step(`^the first box should be labeled "([^"]*)"$`, testCtx.theFirstBoxShouldBeLabeled)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)

	sc.Step(`^a file "([^"]*)" containing:$`, testCtx.theFileContains)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
	sc.Step(`^the file "([^"]*)" should list (\d+) frames? with (\d+) box(?:es)? each$`,
		testCtx.theFileShouldListFramesWithBoxesEach)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}
