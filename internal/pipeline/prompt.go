package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/voc-classifier/internal/model"
)

const systemPrompt = "당신은 카드사 고객 상담 내용을 분류하고 분석하는 전문가입니다. 반드시 요청한 JSON 형식으로만 응답하세요."

// BuildPrompt renders the classification prompt for one transcript. Every
// category is listed as "- name (ID: id)" and the content is embedded verbatim.
func BuildPrompt(content string, categories []model.Category) string {
	var list strings.Builder
	for _, c := range categories {
		list.WriteString("- " + c.Name + " (ID: " + c.ID + ")\n")
	}

	return fmt.Sprintf(`다음 상담 내용을 분석하여 아래 카테고리 중 하나로 분류하고, 상담의 문제 상황과 해결 방법을 분석해주세요.

상담 내용:
%s

카테고리 목록:
%s
카테고리명은 목록에 있는 이름을 그대로 사용하고, category_id에는 해당 카테고리의 ID를 넣어주세요.
confidence는 0과 1 사이의 값입니다.

다음 JSON 형식으로만 응답해주세요:
{
  "classification": {
    "category": "카테고리명",
    "category_id": "카테고리 ID",
    "confidence": 0.95,
    "alternative_categories": [
      {"category": "대안 카테고리명", "confidence": 0.05}
    ]
  },
  "analysis": {
    "problem_situation": "고객이 겪고 있는 문제 상황",
    "solution_approach": "상담원이 제시한 해결 방법",
    "expected_outcome": "해결 후 예상되는 결과"
  }
}`, content, list.String())
}
