package derivation

import (
	"encoding/json"
	"fmt"
)

const jsonOnly = `CRITICAL: You MUST output ONLY valid JSON. Do not include any text before or after the JSON object. Do not wrap it in markdown code blocks.`

func defineDomainPrompts(prompt string) (system, user string) {
	system = jsonOnly + `

You are an expert data architect for a smart city platform. Your task is to analyze a user's description of a data source and generate a structured JSON object that defines its properties.

Output Format: your response MUST be exactly this JSON structure:
{
  "domain_name": "Concise descriptive name for the data domain in PascalCase (e.g. PublicTransport, AirQuality)",
  "criticality_level": 1-5 (1 = low, 5 = high importance for city operations),
  "labels": ["keywords or tags for searching"],
  "authorized_users": ["user roles allowed to access the data, e.g. Admin, Traffic_Analyst"],
  "schema_definition": {"field_name": "STRING | INTEGER | TIMESTAMP | FLOAT | BOOLEAN | GEOGRAPHY"},
  "table_name": "database friendly table name in snake_case"
}`
	user = fmt.Sprintf("User's prompt: %q", prompt)
	return system, user
}

func extractMetadataPrompts(prompt string) (system, user string) {
	system = jsonOnly + `

You are an expert data engineer specializing in data ingestion and API metadata extraction. Given a description of a data source, extract the API metadata. Populate every field based on the description.

Output Format: your response MUST be exactly this JSON structure:
{
  "domain": "Data domain in PascalCase, if it can be inferred",
  "endpoint_id": "Unique identifier for the API endpoint",
  "schema": "Data schema of the API response",
  "source": "Source of the data (e.g. API provider)",
  "is_transformation_required": true or false,
  "is_attachment": true or false,
  "attachment_type": "Type of attachment (e.g. PDF, Excel, CSV, Parquet)",
  "ingestion_type": "RestAPI, Streaming, Webhooks or FileUpload",
  "table_name": "Name of the SQL table to store the data",
  "Data_Usage_Instructions": "Specific instructions on how to use the data",
  "Data_Usage_Prompt": "Prompt for AI agents to label and understand the data",
  "Data_Users": ["users or groups authorized to access the data"]
}`
	user = "Description: " + prompt
	return system, user
}

func transformScriptPrompts(prompt string) (system, user string) {
	system = jsonOnly + `

You are an expert data engineer specializing in Python transformation scripts using the Pandas library.
The script MUST contain a function transform(data) that takes a single dictionary and returns a transformed dictionary.
Include the necessary imports, primarily pandas. Do not include example usage or calls to the function.

Output Format: {"pythonScript": "<the complete script>"}`
	user = fmt.Sprintf("User's transformation request: %q", prompt)
	return system, user
}

func summarizeRecordPrompts(in SummarizeRecordInput) (system, user string, err error) {
	data, err := json.MarshalIndent(in.Data, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode record: %w", err)
	}

	system = jsonOnly + `

You are an assistant for a smart city platform. Summarize an ingested data record into a clear, human-readable text for a non-technical reader. Avoid jargon.
If the data contains non-English text, translate the key information and write the summary in English.

Output Format: {"summary": "<a concise summary as a single block of text>"}`
	user = fmt.Sprintf("Table name: %s\nRecord data:\n%s", in.TableName, data)
	return system, user, nil
}
