package rosync

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// getEntityTypeFromID determines the entity type from the ID prefix.
// It analyzes the prefix of the provided ID and returns the corresponding entity type.
//
// Parameters:
// - id: A string representing the entity ID to analyze.
//
// Returns:
// - string: The determined entity type ("records" or "notifications").
// - error: An error if the ID format is invalid.
func getEntityTypeFromID(id string) (string, error) {
	switch {
	case strings.HasPrefix(id, "rec_"):
		return "records", nil
	case strings.HasPrefix(id, "ntf_"):
		return "notifications", nil
	default:
		return "", fmt.Errorf("invalid entity ID format: %s", id)
	}
}

// UpdateMetadata updates the metadata for a given entity ID.
// It first determines the entity type, retrieves current metadata, merges it with new metadata,
// and updates the entity with the merged metadata. Only records carry metadata;
// notification IDs are recognized but rejected.
//
// Parameters:
// - ctx: The context for the operation.
// - entityID: A string representing the ID of the entity to update.
// - newMetadata: A map containing the new metadata to merge.
//
// Returns:
// - map[string]interface{}: The merged metadata after the update.
// - error: An error if the update operation fails.
func (r *Rosync) UpdateMetadata(ctx context.Context, entityID string, newMetadata map[string]interface{}) (map[string]interface{}, error) {
	entityType, err := getEntityTypeFromID(entityID)
	if err != nil {
		return nil, err
	}

	switch entityType {
	case "records":
		record, err := r.datasource.GetRecord(ctx, entityID)
		if err != nil {
			return nil, errors.New("entity not found")
		}
		mergedMetadata := mergeMetadata(record.MetaData, newMetadata)
		err = r.datasource.UpdateRecordMetadata(ctx, entityID, mergedMetadata)
		if err != nil {
			return nil, fmt.Errorf("failed to update metadata: %w", err)
		}
		return mergedMetadata, nil

	case "notifications":
		return nil, fmt.Errorf("notifications do not carry metadata: %s", entityID)

	default:
		return nil, fmt.Errorf("unsupported entity type: %s", entityType)
	}
}

// mergeMetadata merges new metadata with existing metadata.
// If the current metadata is nil, it initializes a new map.
//
// Parameters:
// - current: The existing metadata map.
// - new: The new metadata map to merge.
//
// Returns:
// - map[string]interface{}: The merged metadata map.
func mergeMetadata(current, new map[string]interface{}) map[string]interface{} {
	if current == nil {
		current = make(map[string]interface{})
	}

	for k, v := range new {
		current[k] = v
	}

	return current
}
