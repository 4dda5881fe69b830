// Copyright 2025 CoachCore
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockDefaultModel is used when no model is configured.
const BedrockDefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// bedrockInvoker is the InvokeModel seam for tests.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockConfig configures the Bedrock adapter.
type BedrockConfig struct {
	Region  string
	Model   string
	Invoker bedrockInvoker
}

// BedrockProvider calls AWS Bedrock via InvokeModel with SigV4 auth from
// the ambient IAM role.
type BedrockProvider struct {
	client bedrockInvoker
	region string
	model  string
}

// NewBedrockProvider creates a Bedrock adapter. Credential resolution is
// deferred to the AWS SDK default chain; a provider with no resolvable
// region is left unconfigured.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Model == "" {
		cfg.Model = BedrockDefaultModel
	}
	p := &BedrockProvider{region: cfg.Region, model: cfg.Model, client: cfg.Invoker}

	if p.client == nil && cfg.Region != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		p.client = bedrockruntime.NewFromConfig(awsCfg)
	}
	return p, nil
}

func (p *BedrockProvider) Name() string {
	return "bedrock"
}

func (p *BedrockProvider) Configured() bool {
	return p.client != nil
}

// Generate invokes the configured Bedrock model.
func (p *BedrockProvider) Generate(ctx context.Context, req Request) (*Generation, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	body, err := buildBedrockBody(model, req)
	if err != nil {
		return nil, Classify(p.Name(), 0, err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, Classify(p.Name(), 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, Classify(p.Name(), 0, fmt.Errorf("bedrock API error: %w", err))
	}

	gen, err := parseBedrockBody(model, output.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Code: ErrInvalidResponse, Err: err}
	}

	gen.Provider = p.Name()
	gen.Model = model
	gen.Latency = time.Since(start)
	gen.Usage.EstimatedCostUSD = estimateCost(gen.Usage, 0.003, 0.015)
	return gen, nil
}

// bedrockModelFamily extracts the vendor segment of a model id, skipping a
// regional inference-profile prefix such as "eu." or "us.".
func bedrockModelFamily(model string) string {
	parts := strings.Split(model, ".")
	if len(parts) >= 3 && len(parts[0]) <= 4 {
		return parts[1]
	}
	if len(parts) >= 2 {
		return parts[0]
	}
	return model
}

// buildBedrockBody builds the request body for the model family.
func buildBedrockBody(model string, req Request) (map[string]interface{}, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	switch bedrockModelFamily(model) {
	case "anthropic":
		body := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       req.Temperature,
			"messages": []map[string]string{
				{"role": "user", "content": req.Prompt},
			},
		}
		if req.SystemPrompt != "" {
			body["system"] = req.SystemPrompt
		}
		return body, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": req.SystemPrompt + "\n\n" + req.Prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   req.Temperature,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt":      req.SystemPrompt + "\n\n" + req.Prompt,
			"max_gen_len": maxTokens,
			"temperature": req.Temperature,
			"top_p":       0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family in %q", model)
	}
}

// parseBedrockBody parses the response body for the model family.
func parseBedrockBody(model string, body []byte) (*Generation, error) {
	switch bedrockModelFamily(model) {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
			Usage      struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		text := ""
		if len(resp.Content) > 0 {
			text = resp.Content[0].Text
		}
		return &Generation{
			Text:         text,
			FinishReason: resp.StopReason,
			Usage: TokenUsage{
				InputTokens:  resp.Usage.InputTokens,
				OutputTokens: resp.Usage.OutputTokens,
				TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
			},
		}, nil
	case "amazon":
		var resp struct {
			Results []struct {
				OutputText       string `json:"outputText"`
				TokenCount       int    `json:"tokenCount"`
				CompletionReason string `json:"completionReason"`
			} `json:"results"`
			InputTextTokenCount int `json:"inputTextTokenCount"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		text := ""
		outputTokens := 0
		finish := ""
		if len(resp.Results) > 0 {
			text = resp.Results[0].OutputText
			outputTokens = resp.Results[0].TokenCount
			finish = resp.Results[0].CompletionReason
		}
		return &Generation{
			Text:         text,
			FinishReason: finish,
			Usage: TokenUsage{
				InputTokens:  resp.InputTextTokenCount,
				OutputTokens: outputTokens,
				TotalTokens:  resp.InputTextTokenCount + outputTokens,
			},
		}, nil
	case "meta":
		var resp struct {
			Generation           string `json:"generation"`
			StopReason           string `json:"stop_reason"`
			PromptTokenCount     int    `json:"prompt_token_count"`
			GenerationTokenCount int    `json:"generation_token_count"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return &Generation{
			Text:         resp.Generation,
			FinishReason: resp.StopReason,
			Usage: TokenUsage{
				InputTokens:  resp.PromptTokenCount,
				OutputTokens: resp.GenerationTokenCount,
				TotalTokens:  resp.PromptTokenCount + resp.GenerationTokenCount,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family in %q", model)
	}
}
